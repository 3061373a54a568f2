package main

import (
	"context"

	"github.com/DoyleJ11/damas-client/internal/config"
	"github.com/DoyleJ11/damas-client/internal/engine"
	"github.com/DoyleJ11/damas-client/internal/logging"
	"github.com/DoyleJ11/damas-client/internal/presence"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "damas",
		Short:         "Terminal and bridge client for Xtreme Damas matches.",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}
	config.Bind(cmd.PersistentFlags(), cfg)

	cmd.AddCommand(newPlayCmd(cfg), newStateCmd(cfg), newPresenceCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("damas v{{.Version}}\n")
	return cmd
}

// app is what every subcommand builds from the configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	api    *engine.Client
	store  *presence.Store
	closer func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Verbose, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slot, closeSlot, err := openSlot(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	store, err := presence.Open(ctx, slot, logger.Named("presence"))
	if err != nil {
		_ = closeSlot()
		_ = logger.Sync()
		return nil, err
	}
	api := engine.NewClient(cfg.APIBase(),
		engine.WithToken(cfg.Token),
		engine.WithLogger(logger.Named("engine")),
	)
	return &app{
		cfg:    cfg,
		logger: logger,
		api:    api,
		store:  store,
		closer: closeSlot,
	}, nil
}

func openSlot(ctx context.Context, cfg *config.Config, logger *zap.Logger) (presence.Slot, func() error, error) {
	if cfg.PresenceDSN != "" {
		s, err := presence.OpenPostgresSlot(ctx, cfg.PresenceDSN, presence.StorageKey, logger.Named("pgslot"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	s, err := presence.NewFileSlot(cfg.PresenceFile, logger.Named("fileslot"))
	if err != nil {
		return nil, nil, err
	}
	return s, func() error { return nil }, nil
}

// Close releases the presence store and its slot.
func (a *app) Close() error {
	err := multierr.Combine(a.store.Close(), a.closer())
	_ = a.logger.Sync()
	return err
}
