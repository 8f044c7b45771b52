package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/hwprobe"
	"github.com/lemonade-sdk/lemonade-server/pkg/lmconfig"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/modelcache"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
	"github.com/lemonade-sdk/lemonade-server/pkg/supervisor"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the lemonade-server daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := lmconfig.Load(cmd.Flags())
			if err != nil {
				return err
			}

			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
			}

			// Upgrade the default text format to the colorized console
			// renderer when attached to a real terminal and the user hasn't
			// asked for a specific format themselves.
			format := logging.Format(cfg.LogFormat)
			if !cmd.Flags().Changed("log-format") && format == logging.FormatText && isatty.IsTerminal(os.Stdout.Fd()) {
				format = logging.FormatConsole
			}

			if err := logging.Configure(level, format, cfg.LogFile); err != nil {
				return fmt.Errorf("configuring logging: %w", err)
			}
			log := logging.Component("main")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hw, err := hwprobe.Probe(ctx)
			if err != nil {
				return fmt.Errorf("probing hardware: %w", err)
			}
			log.WithField("backend", hw.DefaultLlamaCppBackend).Infoln("hardware probe complete")

			cacheDir := cfg.CacheDir
			if cacheDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolving home directory: %w", err)
				}
				cacheDir = filepath.Join(home, ".cache", "lemonade")
			}
			hubCache := cfg.HFHubCache
			if hubCache == "" {
				hubCache = filepath.Join(cacheDir, "hub")
			}

			cache, err := modelcache.New(hubCache)
			if err != nil {
				return fmt.Errorf("opening model cache: %w", err)
			}

			cat, err := catalog.Load(filepath.Join(cacheDir, "user_models.json"))
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}

			opts, err := recipeopts.Open(filepath.Join(cacheDir, "recipe_options.json"))
			if err != nil {
				return fmt.Errorf("loading recipe options: %w", err)
			}

			quotas := scheduler.Quotas{LLM: cfg.MaxLLM, Embedding: cfg.MaxEmbedding, Reranking: cfg.MaxReranking}
			spawn := buildSpawnFunc(logging.Component("wrapped"), cache, hw)
			sched := scheduler.New(logging.Component("scheduler"), cat, opts, spawn, quotas, cfg.EphemeralLow, cfg.EphemeralHigh)

			log.WithField("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).Infoln("starting lemonade-server")
			return supervisor.Run(ctx, supervisor.Deps{
				Config:    cfg,
				Catalog:   cat,
				Cache:     cache,
				Opts:      opts,
				Scheduler: sched,
				Hardware:  hw,
				Version:   Version,
			})
		},
	}
	lmconfig.RegisterFlags(c.Flags())
	// --no-tray is accepted for parity with the original system-tray
	// launcher but has no effect here: this binary has no tray UI to
	// suppress.
	c.Flags().Bool("no-tray", false, "Accepted for compatibility; this build has no tray UI")
	return c
}
