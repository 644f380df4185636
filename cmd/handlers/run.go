package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"blogpilot/internal/config"
	"blogpilot/internal/logger"
	"blogpilot/internal/pipeline"
	"blogpilot/internal/server"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command, the long-running pipeline loop
func NewRunCmd() *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline loop",
		Long: `Scan the input tree on every poll interval and publish what is found.

On start the command stores articles left in the failed-ingest queue by an
earlier run and applies pending series back-patches. Files outside the publish window stay in place until it opens.
New files wake the loop early when schedule.watch is enabled.

The loop stops on Ctrl-C, or when the model or WordPress credentials are
rejected.

Examples:
  # Run with the ops server on server.port
  blogpilot run --serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), serve)
		},
	}

	cmd.Flags().BoolVar(&serve, "serve", false, "also start the ops HTTP server (health, metrics, status)")
	return cmd
}

// NewOnceCmd creates the once command
func NewOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single scan cycle and exit",
		Long: `Scan the input tree once, print what happened to each file and exit.
Suitable for cron.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			retryIngests(cmd.Context(), rt)
			stats, err := rt.Pipeline.ScanOnce(cmd.Context())
			if stats != nil {
				if stats.WindowShut {
					fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Outside the publish window "+rt.Pipeline.Config().Window.String()))
				}
				printResults(cmd.OutOrStdout(), stats.Results)
			}
			return err
		},
	}
}

// NewProcessCmd creates the process command
func NewProcessCmd() *cobra.Command {
	var ignoreWindow bool

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Process specific files",
		Long: `Run the given files through the pipeline. Each path must lie under the input
root as <Major>/<Sub>_<id>/<file>.

Examples:
  blogpilot process input/News/Tech_3/notes.md
  blogpilot process --ignore-window input/Books/Essays_12/*.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ignoreWindow {
				cfg.Schedule.WindowEnabled = false
			}
			rt, err := pipeline.NewBuilder(cfg).Build(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			var results []pipeline.Result
			for _, path := range args {
				res := rt.Pipeline.ProcessFile(cmd.Context(), path)
				results = append(results, res)
				if res.Outcome == pipeline.OutcomeFailed {
					printResults(cmd.OutOrStdout(), results)
					return res.Err
				}
				if cmd.Context().Err() != nil {
					break
				}
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreWindow, "ignore-window", false, "process even outside the publish window")
	return cmd
}

func buildRuntime(ctx context.Context) (*pipeline.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.NewBuilder(cfg).Build(ctx)
}

func retryIngests(ctx context.Context, rt *pipeline.Runtime) {
	if _, err := rt.Pipeline.RetryFailedIngests(ctx); err != nil {
		logger.Warn("Failed-ingest retry stopped early", "error", err)
	}
	if _, err := rt.Pipeline.RetryBackpatches(ctx); err != nil {
		logger.Warn("Back-patch retry stopped early", "error", err)
	}
}

func runLoop(ctx context.Context, serve bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := pipeline.NewBuilder(cfg).Build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	retryIngests(ctx, rt)

	var srv *server.Server
	if serve {
		srv = newOpsServer(ctx, cfg, rt, rt.Pipeline)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown failed", err)
			}
		}()
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-time.After(100 * time.Millisecond):
		}
	}

	return rt.Pipeline.Run(ctx, func(stats *pipeline.CycleStats) {
		if srv != nil {
			srv.RecordCycle(stats, nil)
		}
	})
}

func newOpsServer(ctx context.Context, cfg *config.Config, rt *pipeline.Runtime, scanner server.Scanner) *server.Server {
	opts := server.Options{Version: Version, Scanner: scanner}
	if rt.Store != nil {
		opts.Store = rt.Store
	}
	if rt.Queue != nil {
		opts.Queue = rt.Queue
	}
	return server.New(ctx, cfg.Server, os.Getenv("ADMIN_API_KEY"), opts)
}
