// Command replybot runs the unattended reply bot: it scans a live search
// timeline in a real browser session, gates candidates through keyword and
// AI classification, and replies at most once per post.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"replybot/internal/browser"
	"replybot/internal/classify"
	"replybot/internal/config"
	"replybot/internal/dashboard"
	"replybot/internal/reply"
	"replybot/internal/scheduler"
	"replybot/internal/session"
	"replybot/internal/stats"
	"replybot/internal/store"
	"replybot/internal/timeline"
)

var (
	configPath  string
	dryRun      bool
	headless    bool
	noDashboard bool
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "replybot",
	Short: "Unattended reply bot for X/Twitter live search",
	Long: `replybot watches a live search timeline in a logged-in browser
session, classifies fresh posts with keyword and AI filters, and replies to
each admissible post exactly once. Replied post ids are persisted atomically
so restarts never double-reply.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "fill the composer but never submit")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	rootCmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "disable the interactive console")
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Reply.DryRun = dryRun
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if cmd.Flags().Changed("no-dashboard") {
		cfg.Dashboard.Enabled = !noDashboard
	}

	if cfg.AI.Enabled && cfg.AI.APIKey == "" {
		token, err := store.EnsureToken(cfg.Store.TokenPath, "OPENAI_API_KEY", promptToken)
		if err != nil {
			return fmt.Errorf("obtain AI key: %w", err)
		}
		cfg.AI.APIKey = token
	}

	b, err := browser.Launch(ctx, browser.Config{
		Headless:    cfg.Browser.Headless,
		UserDataDir: cfg.Browser.UserDataDir,
		Bin:         cfg.Browser.Bin,
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warn("browser close failed", zap.Error(cerr))
		}
	}()
	page := b.Page()

	replied, err := store.OpenReplied(cfg.Store.RepliedPath)
	if err != nil {
		return fmt.Errorf("open replied store: %w", err)
	}
	logger.Info("replied store loaded", zap.Int("ids", replied.Len()))

	st := stats.New()
	controls := scheduler.NewControls(cfg.Reply.DryRun)

	monitor := session.New(page, session.Config{
		NavTimeout:    cfg.NavTimeout(),
		MaxRetries:    cfg.Network.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff(),
		LoginWait:     cfg.LoginWait(),
		HealthRetries: cfg.Network.HealthMaxRetries,
		StuckWait:     cfg.StuckWait(),
	}, st, logger, controls.WaitCaptcha)

	var classifier classify.Classifier
	if cfg.AI.Enabled {
		classifier = classify.NewClient(classify.ClientConfig{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
			Timeout: cfg.AITimeout(),
		})
	}
	gate := classify.NewGate(classify.GateConfig{
		Enabled:          cfg.AI.Enabled,
		PreFilter:        cfg.AI.PreFilterKeywords,
		PositiveKeywords: cfg.Keywords.Positive,
		NegativeKeywords: cfg.Keywords.Negative,
		Labels:           cfg.AI.CandidateLabels,
		TargetLabel:      cfg.AI.TargetLabel,
		Threshold:        cfg.AI.Threshold,
		CacheTTL:         cfg.AICacheTTL(),
	}, classifier, st, logger)

	scanner := timeline.NewScanner(page, cfg.MaxAge(), st, logger)
	engine := reply.New(page, replied, st, logger, reply.Config{
		Message:         cfg.Keywords.ReplyMessage,
		ClickTimeout:    cfg.ClickTimeout(),
		ComposerTimeout: cfg.ComposerTimeout(),
		SubmitTimeout:   cfg.SubmitTimeout(),
	})

	sched := scheduler.New(scheduler.Config{
		TargetURL:        cfg.SearchURL(),
		Interval:         cfg.ScanInterval(),
		RefreshThreshold: cfg.Scan.NoNewCyclesBeforeRefresh,
	}, monitor, scanner, gate, engine, replied,
		store.NewJournal(cfg.Store.DecisionsPath),
		store.NewJournal(cfg.Store.CyclesPath),
		st, controls, logger)

	// The initial session must come up before the loop starts. A login
	// that never materializes is an operator outcome, not a crash: report
	// it and stop cleanly.
	if err := monitor.EnsureReady(ctx, cfg.SearchURL()); err != nil {
		return loginFailure(os.Stderr, logger, err)
	}
	logger.Info("session ready",
		zap.String("target", cfg.SearchURL()),
		zap.Bool("dry_run", cfg.Reply.DryRun))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer controls.RequestQuit()
		return sched.Run(gctx)
	})
	if cfg.Dashboard.Enabled {
		targetURL := ""
		if cfg.Dashboard.ShowURL {
			targetURL = cfg.SearchURL()
		}
		g.Go(func() error {
			defer controls.RequestQuit()
			return dashboard.Run(gctx, st, controls, targetURL)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// loginFailure converts a session that never became ready into a clean
// stop: the operator is told, the process exits zero. Genuine startup
// exceptions such as a bad config or a browser that will not launch
// still fail the command.
func loginFailure(w io.Writer, log *zap.Logger, err error) error {
	log.Error("login failed, stopping", zap.Error(err))
	fmt.Fprintln(w, "Gagal login.")
	return nil
}

func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "OpenAI API key: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
