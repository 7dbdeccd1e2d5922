// ABOUTME: run subcommand: wires config, store, registry, decider, gateway and bridge
// ABOUTME: Runs the Matrix bridge with background sweeping and audit log pruning

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-responder/internal/config"
	"github.com/2389/coven-responder/internal/conversation"
	"github.com/2389/coven-responder/internal/decider"
	"github.com/2389/coven-responder/internal/gateway"
	"github.com/2389/coven-responder/internal/responder"
	"github.com/2389/coven-responder/internal/store"
)

// pruneInterval is how often old decisions are deleted.
const pruneInterval = time.Hour

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Matrix and start responding",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	cfgPath := getConfigPath()
	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", cfgPath, err)
	}
	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	dbPath := resolveDataFile(dataPath, cfg.Database.Path)
	printField("Config", cfgPath)
	printField("Homeserver", cfg.Matrix.Homeserver)
	printField("Username", cfg.Matrix.Username)
	printField("Gateway", cfg.Gateway.URL)
	printField("Database", dbPath)
	printField("Timeout", cfg.Conversation.Timeout.String())
	if cfg.Judge.Enabled {
		printField("Judge", cfg.Gateway.JudgeAgentID)
	}
	if cfg.Matrix.RecoveryKey != "" {
		printField("Encryption", "enabled")
	}
	fmt.Println()

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening decision store: %w", err)
	}
	defer st.Close()

	registry := conversation.NewRegistry(conversation.Options{
		Timeout: cfg.Conversation.Timeout,
		Logger:  logger,
	})

	gw := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token)
	var judge decider.Judge
	if cfg.Judge.Enabled {
		judge = gateway.NewJudge(gw, cfg.Gateway.JudgeAgentID)
	}
	dec := decider.New(decider.Config{
		FollowupWindow:       cfg.Conversation.FollowupWindow,
		UseJudge:             cfg.Judge.Enabled,
		JudgeTimeout:         cfg.Judge.Timeout,
		JudgeContextMessages: cfg.Judge.ContextMessages,
	}, judge)

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	resp, err := responder.New(responder.Config{
		ResponderID:         bridge.UserID(),
		MentionTokens:       bridge.MentionTokens(),
		RecentContextWindow: cfg.Conversation.RecentContextWindow,
		RecentContextLimit:  cfg.Conversation.RecentContextLimit,
		DebugChannel:        cfg.Matrix.DebugRoom,
	}, responder.Options{
		Registry:  registry,
		Decider:   dec,
		Generator: gateway.NewGenerator(gw, cfg.Gateway.AgentID, logger),
		Outbound:  bridge,
		History:   bridge,
		Audit:     st,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating responder: %w", err)
	}
	bridge.SetHandler(resp)

	var wg sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer func() {
		stopBackground()
		wg.Wait()
	}()

	sweeper := conversation.NewSweeper(registry, cfg.Conversation.SweepInterval, logger)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		pruneDecisions(bgCtx, st, cfg.Database.Retention, logger)
	}()

	logger.Info("starting responder", "user_id", bridge.UserID(), "mention_tokens", strings.Join(bridge.MentionTokens(), ","))
	return bridge.Run(ctx)
}

// pruneDecisions deletes audit entries older than retention, once at start
// and then every pruneInterval.
func pruneDecisions(ctx context.Context, st store.DecisionStore, retention time.Duration, logger *slog.Logger) {
	prune := func() {
		n, err := st.PruneDecisions(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("pruning decisions failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned old decisions", "count", n)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
