package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/sentio/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversation host",
	Long: `Run the HTTP API, the avatar WebSocket and the playback render loop.

Renderer pages connect to /v1/avatar/ws. Turns are started with
POST /v1/turn/text, POST /v1/turn/audio or a text_input message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.BindAddr = serveAddr
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		built, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := built.Cleanup(); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.BindAddr,
			Handler: built.API.Router(),
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening",
				"addr", cfg.BindAddr,
				"adh", cfg.ServerURL,
				"adh_ready", built.UpstreamReady,
				"agent", built.Agent.Detail,
				"store", built.Store.Mode(),
			)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides APP_BIND_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
