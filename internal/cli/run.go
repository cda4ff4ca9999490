package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/config"
	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/server"
	"github.com/roach88/chatsync/internal/transport"
	"github.com/roach88/chatsync/internal/trigger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Addr string

	// Started, if set, receives the engine once everything is wired and
	// the API is about to listen (tests).
	Started func(*engine.Engine)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the local API and replay the queue when connectivity returns",
		Long: `Start the chatsync daemon.

The daemon opens the configured store, serves the local HTTP API and
websocket event stream, and replays queued operations when the
connectivity probe succeeds or the cron schedule fires.

Example:
  chatsync run --config chatsync.yaml
  CHATSYNC_TRIGGER_PROBE_URL=https://chat.example.com/healthz chatsync run --addr :8787`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore(st)
	slog.Info("store ready", "driver", cfg.Store.Driver, "namespace", cfg.Store.Namespace)

	client := transport.New(transport.Options{
		Timeout:   cfg.Transport.Timeout.Std(),
		UserAgent: cfg.Transport.UserAgent,
	})
	hub := notify.NewHub(notify.DefaultSessionBuffer)
	conn := trigger.NewConnectivity(client, cfg.Trigger.ProbeURL, cfg.Trigger.ProbeInterval.Std(), cfg.Trigger.ProbeBurst)

	engOpts := []engine.EngineOption{
		engine.WithArmer(conn),
		engine.WithResolutionTTL(cfg.Store.ResolutionTTL.Std()),
	}
	srvOpts := server.Options{
		Events: notify.NewWebSocketHandler(hub, cfg.Server.AllowedOrigins),
	}
	if cfg.Metrics.Enabled {
		m := metrics.New()
		engOpts = append(engOpts, engine.WithObserver(m))
		srvOpts.Metrics = m.Handler()
	}
	eng := engine.New(st, client, notify.Multi{hub, notify.Log}, engOpts...)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	flush := func(ctx context.Context) error {
		_, err := eng.Flush(ctx)
		return err
	}

	var wg sync.WaitGroup
	runTrigger := func(name string, run func(context.Context, trigger.FlushFunc) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx, flush); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("trigger stopped", "trigger", name, "error", err)
			}
		}()
	}
	if cfg.Trigger.ProbeURL != "" {
		runTrigger("connectivity", conn.Run)
	}
	if cfg.Trigger.Cron != "" {
		sched, err := trigger.NewSchedule(cfg.Trigger.Cron)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid trigger schedule", err)
		}
		runTrigger("schedule", sched.Run)
	}

	resumeBacklog(ctx, eng, conn, cfg)

	if opts.Started != nil {
		opts.Started(eng)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "chatsync listening on %s\n", cfg.Server.Addr)

	srv := server.New(eng, srvOpts)
	serveErr := srv.ListenAndServe(ctx, cfg.Server.Addr)
	cancel()
	wg.Wait()

	if serveErr != nil {
		return WrapExitError(ExitFailure, "api server error", serveErr)
	}
	slog.Info("chatsync stopped gracefully")
	return nil
}

// resumeBacklog schedules a replay for operations left over from a
// previous run.
func resumeBacklog(ctx context.Context, eng *engine.Engine, conn *trigger.Connectivity, cfg *config.Config) {
	pending, err := eng.Pending(ctx)
	if err != nil {
		slog.Warn("could not read backlog", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	slog.Info("backlog found", "operations", len(pending))

	if cfg.Trigger.ProbeURL != "" {
		if err := conn.Arm(ctx); err == nil {
			return
		}
	}
	if cfg.Trigger.Cron == "" {
		slog.Info("no replay trigger configured; use POST /v1/flush or chatsync flush")
	}
}
