package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/alice/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *options) *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST and WebSocket API and relay the transcript to chat platforms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, sc, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := build(ctx, cfg, true, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := sc.ApplyTo(st.engine); err != nil {
				return err
			}
			if err := st.gw.ConnectAll(ctx); err != nil {
				logger.Warn("some gateway adapters failed to connect", zap.Error(err))
			}

			handler := api.NewHandler(st.engine, st.router, st.history, logger)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("alice listening",
					zap.String("addr", srv.Addr),
					zap.String("run", st.engine.RunID()),
					zap.String("scenario", sc.Name))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if autostart {
				if err := st.engine.Start(gctx); err != nil {
					return err
				}
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&autostart, "start", false, "start the run immediately")
	return cmd
}
