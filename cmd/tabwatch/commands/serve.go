package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tabwatch/tabwatch/browser"
	"github.com/tabwatch/tabwatch/capture"
	"github.com/tabwatch/tabwatch/config"
	"github.com/tabwatch/tabwatch/deliver"
	"github.com/tabwatch/tabwatch/errors"
	"github.com/tabwatch/tabwatch/logger"
	"github.com/tabwatch/tabwatch/queue"
	"github.com/tabwatch/tabwatch/schedule"
	"github.com/tabwatch/tabwatch/server"
	"github.com/tabwatch/tabwatch/version"
	"github.com/tabwatch/tabwatch/watch"
)

// ServeCmd starts the tabwatch daemon
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the watch daemon and its HTTP API",
	Long: `Connect to a running browser over the DevTools protocol, resume
scheduled watches from the database, and serve the HTTP API with the
websocket status stream.`,
	RunE: runServe,
}

var (
	serveDBPath      string
	serveDevToolsURL string
)

// statusClearAfter is how long terminal watch statuses stay visible
// before reverting to idle.
const statusClearAfter = 30 * time.Second

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().StringVar(&serveDevToolsURL, "devtools", "", "Browser DevTools websocket URL (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(serveDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	log := logger.Logger

	devtoolsURL := cfg.Browser.DevToolsURL
	if serveDevToolsURL != "" {
		devtoolsURL = serveDevToolsURL
	}

	session, err := browser.Connect(context.Background(), devtoolsURL, log)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to browser at %s", devtoolsURL)
	}
	defer session.Close()

	regions, err := capture.NewRegionStore(database)
	if err != nil {
		return errors.Wrap(err, "failed to load capture regions")
	}

	settleDelay := time.Duration(cfg.Browser.SettleDelayMS) * time.Millisecond
	pollInterval := time.Duration(cfg.Browser.PollIntervalMS) * time.Millisecond

	coordinator := capture.NewCoordinator(session, session, regions, settleDelay, log)

	deliverer := deliver.NewClient(deliver.Config{
		APIURL:        cfg.Delivery.APIURL,
		ChatID:        cfg.Delivery.ChatID,
		Timeout:       time.Duration(cfg.Delivery.TimeoutSeconds) * time.Second,
		Retries:       cfg.Delivery.Retries,
		Backoff:       time.Duration(cfg.Delivery.BackoffSeconds) * time.Second,
		RatePerMinute: cfg.Delivery.RatePerMinute,
	}, log)

	// The board notifies the server of every phase change, but the server
	// is built after the board. The closure resolves at call time.
	var srv *server.TabwatchServer
	board := watch.NewStatusBoard(statusClearAfter, func(status watch.Status) {
		if srv != nil {
			srv.OnStatusChange(status)
		}
	})

	preparer := watch.NewSessionPreparer(session, watch.PageConfig{
		Readiness: browser.ReadinessConfig{
			SettleDelay:    settleDelay,
			PollInterval:   pollInterval,
			LenientLoading: cfg.Browser.LenientLoading,
		},
		Runner: browser.RunnerConfig{
			StepRetries:      cfg.Watch.StepRetries,
			StepBackoff:      time.Duration(cfg.Watch.StepBackoffMS) * time.Millisecond,
			IndicatorTimeout: time.Duration(cfg.Watch.IndicatorTimeoutSeconds) * time.Second,
			PollInterval:     pollInterval,
		},
		RefreshSelector:   cfg.Watch.RefreshSelector,
		IndicatorSelector: cfg.Watch.IndicatorSelector,
	}, log)

	orchestrator := watch.NewOrchestrator(preparer, coordinator, deliverer, board, watch.Config{
		MaxRetries:           cfg.Watch.MaxRetries,
		ReadinessTimeoutBase: time.Duration(cfg.Watch.ReadinessTimeoutBaseSeconds) * time.Second,
		ReadinessTimeoutStep: time.Duration(cfg.Watch.ReadinessTimeoutStepSeconds) * time.Second,
	}, log)

	q := queue.New(log)
	alarms := schedule.NewStore(database)
	execs := schedule.NewExecutionStore(database)

	srv = server.NewServer(alarms, execs, regions, board, session, q, cfg.Server, log)

	ticker := schedule.NewTicker(alarms, q, orchestrator, srv, schedule.TickerConfig{
		Interval: time.Duration(cfg.Watch.TickerIntervalSeconds) * time.Second,
	}, log)
	ticker.Start()

	pterm.Info.Printf("%s\n", version.Get().String())
	pterm.Info.Printf("Watching browser at %s\n", devtoolsURL)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		ticker.Stop()
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ticker.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownDone <- srv.Shutdown(shutdownCtx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Daemon stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}
