package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopylabs/cropclass/internal/export"
	"github.com/canopylabs/cropclass/internal/server"
)

var servePort int

const uploadSweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classification API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		pipeline, err := buildPipeline(server.NewImageSource(st))
		if err != nil {
			return err
		}

		renderer := export.NewRenderer(cfg.Export.FilenamePrefix, nil)
		limiter := server.NewClientLimiter(cfg.Server.RateLimit, nil)
		handler := server.New(cfg, st, pipeline, renderer, limiter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Sweep expired upload blobs while the server runs.
		go func() {
			ticker := time.NewTicker(uploadSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := st.DeleteExpiredUploads(ctx)
					if err != nil {
						zap.L().Warn("sweep expired uploads", zap.Error(err))
						continue
					}
					if n > 0 {
						zap.L().Info("swept expired uploads", zap.Int("deleted", n))
					}
				}
			}
		}()

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
