package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/postavshik/internal/auth"
	"github.com/zulandar/postavshik/internal/config"
	"github.com/zulandar/postavshik/internal/db"
	"github.com/zulandar/postavshik/internal/directory"
)

// app bundles the services one command invocation needs. The credential is
// loaded once here and handed to every collaborator.
type app struct {
	cfg  *config.Config
	db   *gorm.DB
	auth *auth.Context
	dir  *directory.Client
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadOrDefault(cmd.Flag("config").Value.String())
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if v := cmd.Flag("log-level").Value.String(); v != "" {
		level = v
	}
	if err := setupLogging(cmd.ErrOrStderr(), level); err != nil {
		return nil, err
	}

	gormDB, err := db.ConnectAndMigrate(cfg.State.Path)
	if err != nil {
		return nil, err
	}
	store, err := auth.NewGormStore(gormDB)
	if err != nil {
		return nil, err
	}
	ac, err := auth.Load(cmd.Context(), store)
	if err != nil {
		return nil, err
	}
	dir, err := directory.New(directory.ClientOpts{
		BaseURL: cfg.API.BaseURL,
		Auth:    ac,
		Timeout: time.Duration(cfg.API.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("api", cfg.API.BaseURL).Str("state", cfg.State.Path).
		Bool("authenticated", ac.Authenticated()).Msg("pst: ready")
	return &app{cfg: cfg, db: gormDB, auth: ac, dir: dir}, nil
}

func (a *app) close() {
	if err := db.Close(a.db); err != nil {
		log.Warn().Err(err).Msg("pst: close state db")
	}
}

// setupLogging points the global zerolog logger at w as human-readable
// console output.
func setupLogging(w io.Writer, level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
