package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/config"
	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/store/pebblestore"
)

// queueStore is a closable engine store.
type queueStore interface {
	engine.Store
	Close() error
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Sources{
		File:      o.ConfigFile,
		EnvFile:   o.EnvFile,
		LookupEnv: o.LookupEnv,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. --verbose forces debug.
func setupLogging(cfg config.LogConfig, verbose bool, w io.Writer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg config.StoreConfig) (queueStore, error) {
	slog.Debug("opening store", "driver", cfg.Driver, "path", cfg.Path, "namespace", cfg.Namespace)

	var (
		st  queueStore
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err = store.Open(cfg.Path, cfg.Namespace)
	case config.DriverPebble:
		st, err = pebblestore.Open(cfg.Path, cfg.Namespace)
	case config.DriverMemory:
		st = store.NewMemory()
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

func closeStore(st queueStore) {
	if err := st.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}

// commandContext returns cmd's context or Background when run outside
// Execute (tests calling RunE directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
