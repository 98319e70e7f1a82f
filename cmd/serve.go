package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/browzerlabs/browzer-engine/internal/server"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the automation API over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := initializeComponents(ctx, app.cfg, app.logger, componentOptions{engine: true})
			if err != nil {
				return err
			}

			handlers := server.NewHandlers(app.logger, c.engine, c.store, c.synth)
			srv := server.NewServer(app.cfg.Server, handlers, c.registry, app.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				c.Shutdown(shutdownCtx)
				return nil
			})

			err = g.Wait()
			app.logger.Info("API server stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	configFlag(cmd, "addr", "server.addr")
	cmd.Flags().Bool("metrics", true, "serve Prometheus metrics on /metrics")
	configFlag(cmd, "metrics", "server.metrics_enabled")
	return cmd
}
