// ABOUTME: init subcommand: interactive config writer
// ABOUTME: Prompts for Matrix and gateway settings and writes YAML or TOML by extension

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-responder/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), getConfigPath())
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// prompter reads answers line by line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// ask prints question and returns the trimmed answer, or def when empty.
func (p *prompter) ask(question, def string) string {
	color.New(color.FgGreen).Fprint(p.out, "    ▶ ")
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	answer, _ := p.in.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def
	}
	return answer
}

func runInit(in io.Reader, out io.Writer, path string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	fmt.Fprintln(out, "    Interactive Setup")
	fmt.Fprintln(out, "    -----------------")
	fmt.Fprintln(out)

	p := &prompter{in: bufio.NewReader(in), out: out}

	if _, err := os.Stat(path); err == nil {
		yellow.Fprintf(out, "    Config already exists at %s\n", path)
		if strings.ToLower(p.ask("Overwrite? [y/N]", "")) != "y" {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
		fmt.Fprintln(out)
	}

	cfg := config.Default()
	cfg.Matrix.Homeserver = p.ask("Matrix homeserver URL", "https://matrix.org")
	cfg.Matrix.Username = p.ask("Matrix username", "")
	cfg.Matrix.Password = p.ask("Matrix password (or ${ENV_VAR})", "${MATRIX_PASSWORD}")
	cfg.Matrix.RecoveryKey = p.ask("Matrix recovery key (optional, for E2EE)", "")
	if rooms := p.ask("Allowed rooms, comma separated (empty = all joined rooms)", ""); rooms != "" {
		for _, r := range strings.Split(rooms, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Matrix.AllowedRooms = append(cfg.Matrix.AllowedRooms, r)
			}
		}
	}
	cfg.Matrix.DebugRoom = p.ask("Debug room for error reports (optional)", "")

	cfg.Gateway.URL = p.ask("Gateway URL", "http://localhost:8080")
	cfg.Gateway.AgentID = p.ask("Agent ID for replies (optional)", "")
	if strings.ToLower(p.ask("Enable the judge for ambiguous messages? [y/N]", "n")) == "y" {
		cfg.Judge.Enabled = true
		cfg.Gateway.JudgeAgentID = p.ask("Judge agent ID", cfg.Gateway.AgentID)
	}

	if err := cfg.Write(path); err != nil {
		return err
	}

	fmt.Fprintln(out)
	green.Fprintf(out, "    ✓ Config written to %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "    Next steps:")
	fmt.Fprintln(out, "    1. Run: coven-responder run")
	fmt.Fprintln(out)

	return nil
}
