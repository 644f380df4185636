package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"blogpilot/internal/logger"
	"blogpilot/internal/metrics"
	"blogpilot/internal/retryqueue"
	"blogpilot/internal/server"
	"blogpilot/internal/store"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for starting the ops HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops HTTP server without the pipeline",
		Long: `Serve health, Prometheus metrics, store statistics and recent articles.

Manual scans are only available from 'blogpilot run --serve', where the
pipeline runs in the same process.

Examples:
  blogpilot serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	metrics.NewMetrics()
	opts := server.Options{Version: Version}
	if cfg.StoreEnabled() {
		st, err := store.Open(ctx, cfg.Database.ConnectionString, store.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		opts.Store = st
		opts.Queue = retryqueue.New(cfg.Paths.Data, cfg.RetryQueue.MaxAttempts)
	}

	srv := server.New(ctx, serverCfg, os.Getenv("ADMIN_API_KEY"), opts)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
