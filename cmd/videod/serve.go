package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the poll workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			app := fx.New(serverModule(cfg), fx.NopLogger)
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			sig := <-app.Done()
			log.Info().Str("signal", sig.String()).Msg("shutdown requested")

			stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer stopCancel()
			if err := app.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("shutdown incomplete")
				return err
			}
			log.Info().Msg("stopped")
			return nil
		},
	}
}
