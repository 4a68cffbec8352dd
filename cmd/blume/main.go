package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mvaleed/blume/internal/config"
	"github.com/mvaleed/blume/internal/store"
)

// env is what every command runs with once Before has loaded the config.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	dryRun bool
}

// openStore opens the configured store. Dry runs open it read only, so
// nothing a command does can reach the log.
func (e *env) openStore() (*store.Store, error) {
	return store.Open(e.cfg.Store.Dir, store.Options{
		Durability: e.cfg.Durability(),
		ReadOnly:   e.dryRun,
		Logger:     e.logger,
	})
}

// write runs fn unless this is a dry run.
func (e *env) write(what string, fn func() error) error {
	if e.dryRun {
		e.logger.Info("dry run, not writing", "what", what)
		return nil
	}
	return fn()
}

func parseID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad script id %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseOffset(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad record offset %q: %w", s, err)
	}
	return v, nil
}

func newApp(e *env) *cli.App {
	return &cli.App{
		Name:  "blume",
		Usage: "extract and re-inject dialogue in UNI/STCM2 game scripts",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"BLUME_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "don't write to the store",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.Path("config"))
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.dryRun = c.Bool("dry-run")
			e.logger = cfg.Log.NewLogger(os.Stderr)
			slog.SetDefault(e.logger)
			return nil
		},
		Commands: []*cli.Command{
			uniCommand(e),
			stcm2Command(e),
			translateCommand(e),
			storeCommand(e),
			scriptCommand(e),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(&env{logger: slog.Default()}).RunContext(ctx, os.Args); err != nil {
		slog.Error("blume failed", "err", err)
		os.Exit(1)
	}
}
