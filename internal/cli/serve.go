package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nudgehq/nudge/internal/actions"
	"github.com/nudgehq/nudge/internal/config"
	"github.com/nudgehq/nudge/internal/schedule"
	"github.com/nudgehq/nudge/internal/scheduler"
	"github.com/nudgehq/nudge/internal/server"
	"github.com/nudgehq/nudge/internal/server/handlers"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 15 * time.Second

var (
	servePort        int
	serveHost        string
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the firing engine",
	Long: `Start the nudge server.

The server will:
  - Open the database and apply pending migrations
  - Recover triggers that were due while it was down
  - Poll for due triggers and fire them (unless --no-scheduler)
  - Serve the reminder, inbox and ledger API

Use --no-scheduler when an external scheduler calls the dispatch path.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Do not run the in-process firing engine")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := server.Deps{
		Handlers: handlers.Deps{
			Actions:    actions.NewHandler(a.db, a.reminders, a.triggers, schedule.NewNormalizer(cfg.Scheduler.StrictModes), a.coordinator),
			Reminders:  a.reminders,
			Triggers:   a.triggers,
			Executions: a.ledger,
			Inbox:      a.inbox,
		},
		Version: version,
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled && !serveNoScheduler {
		sched = scheduler.NewScheduler(a.triggers, a.planner, a.coordinator, cfg.Scheduler)
		sched.Start()
		defer sched.Stop()
		deps.Scheduler = sched
	} else {
		log.Info().Msg("In-process scheduler disabled")
	}

	srv := server.New(cfg, a.db, deps)

	if path, pathErr := config.ConfigFilePath(cfgFile); pathErr == nil {
		watcher, watchErr := NewConfigWatcher(path, reloadLogging)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("Failed to watch config file, continuing without reload")
		} else {
			watcher.Start()
			defer func() { _ = watcher.Stop() }()
			log.Info().Str("path", path).Msg("Watching config file")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Graceful shutdown incomplete")
	}
	return <-errCh
}

// reloadLogging re-reads the config file and applies its logging section.
// Other sections only take effect on restart.
func reloadLogging(path string) {
	reloaded, err := config.Load(config.LoadOptions{ConfigFile: path})
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring invalid config change")
		return
	}
	setupLogging(reloaded.Logging)
	log.Info().
		Str("level", reloaded.Logging.Level).
		Str("format", reloaded.Logging.Format).
		Msg("Logging configuration reloaded")
}
