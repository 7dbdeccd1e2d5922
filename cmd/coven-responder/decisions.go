// ABOUTME: decisions subcommand: prints the recent response decision audit log
// ABOUTME: Filters by room, reason and age; styled table output via lipgloss

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/2389/coven-responder/internal/config"
	"github.com/2389/coven-responder/internal/store"
)

var (
	decisionsChannel string
	decisionsReason  string
	decisionsSince   time.Duration
	decisionsLimit   int
	decisionsDB      string
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	respondStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	silentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show recent response decisions",
	Long: `Show the audit log of start/respond decisions, newest first.

Examples:
  coven-responder decisions
  coven-responder decisions --channel '!ops:example.org' --limit 50
  coven-responder decisions --reason judge_unavailable --since 24h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := decisionsDB
		if dbPath == "" {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			dbPath = resolveDataFile(getDataPath(), cfg.Database.Path)
		}

		st, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("opening decision store: %w", err)
		}
		defer st.Close()

		filter := store.DecisionFilter{Limit: decisionsLimit}
		if decisionsChannel != "" {
			filter.ChannelID = &decisionsChannel
		}
		if decisionsReason != "" {
			filter.Reason = &decisionsReason
		}
		if decisionsSince > 0 {
			since := time.Now().Add(-decisionsSince)
			filter.Since = &since
		}

		decisions, err := st.ListDecisions(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("listing decisions: %w", err)
		}
		printDecisions(cmd.OutOrStdout(), decisions)
		return nil
	},
}

func init() {
	decisionsCmd.Flags().StringVar(&decisionsChannel, "channel", "", "only decisions for this room ID")
	decisionsCmd.Flags().StringVar(&decisionsReason, "reason", "", "only decisions with this reason")
	decisionsCmd.Flags().DurationVar(&decisionsSince, "since", 0, "only decisions newer than this (e.g. 24h)")
	decisionsCmd.Flags().IntVarP(&decisionsLimit, "limit", "n", 20, "maximum number of decisions")
	decisionsCmd.Flags().StringVar(&decisionsDB, "db", "", "database path (default from config)")
	rootCmd.AddCommand(decisionsCmd)
}

func printDecisions(w io.Writer, decisions []store.Decision) {
	if len(decisions) == 0 {
		fmt.Fprintln(w, "No decisions recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("TIME")+"\t"+
		headerStyle.Render("ROOM")+"\t"+
		headerStyle.Render("STAGE")+"\t"+
		headerStyle.Render("RESPOND")+"\t"+
		headerStyle.Render("REASON")+"\t"+
		headerStyle.Render("CONVERSATION"))

	for _, d := range decisions {
		outcome := silentStyle.Render("no")
		if d.Respond {
			outcome = respondStyle.Render("yes")
		}
		conv := "-"
		if d.ConversationID != nil {
			conv = idStyle.Render(shortID(*d.ConversationID))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Timestamp.Local().Format("2006-01-02 15:04:05"),
			d.ChannelID,
			d.Stage,
			outcome,
			d.Reason,
			conv)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
