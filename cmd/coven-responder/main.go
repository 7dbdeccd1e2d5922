// ABOUTME: Entry point for coven-responder
// ABOUTME: Cobra root command, config/data path resolution and logger setup

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const banner = `
  ___ _____   _____ _ __    _ __ ___  ___ _ __   ___  _ __   __| | ___ _ __
 / __/ _ \ \ / / _ \ '_ \  | '__/ _ \/ __| '_ \ / _ \| '_ \ / _' |/ _ \ '__|
| (_| (_) \ V /  __/ | | | | | |  __/\__ \ |_) | (_) | | | | (_| |  __/ |
 \___\___/ \_/ \___|_| |_| |_|  \___||___/ .__/ \___/|_| |_|\__,_|\___|_|
                                         |_|
`

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "coven-responder",
	Short: "Conversation-aware Matrix responder backed by coven agents",
	Long: `coven-responder sits in Matrix rooms and answers when it is addressed.

Once someone mentions it (or replies to it) a conversation opens in that room.
While the conversation is live, short follow-ups are answered without another
mention, and an optional judge agent decides the ambiguous cases. Replies are
generated by an agent on a coven gateway.

Quick Start:
  coven-responder init        # write a config interactively
  coven-responder run         # connect and start responding
  coven-responder decisions   # show recent response decisions`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/coven-responder/config.toml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// getConfigPath returns the path to the config file.
// Priority: --config flag > COVEN_RESPONDER_CONFIG env var > XDG_CONFIG_HOME/coven-responder/config.toml > ~/.config/coven-responder/config.toml
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("COVEN_RESPONDER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-responder", "config.toml")
}

// getDataPath returns the directory for the crypto store.
// Priority: XDG_DATA_HOME/coven-responder > ~/.local/share/coven-responder
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-responder")
}

// resolveDataFile places relative database paths under the data directory.
func resolveDataFile(dataPath, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataPath, path)
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// printField prints one aligned startup line.
func printField(label, value string) {
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("%-12s %s\n", label+":", value)
}
