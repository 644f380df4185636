package handlers

import (
	"context"
	"fmt"
	"io"
	"time"

	"blogpilot/internal/pipeline"

	"github.com/spf13/cobra"
)

// NewCheckCmd creates the check command
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and reach every configured service",
		Long: `Load the configuration, then verify the WordPress credentials, the
Telegram bot token and the database connection. Nothing is published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := pipeline.NewBuilder(cfg).Build(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Configuration"))
			fmt.Fprintf(out, "  input      %s\n", cfg.Paths.Input)
			fmt.Fprintf(out, "  window     %s\n", rt.Pipeline.Config().Window)
			fmt.Fprintf(out, "  model      %s (fallback %q)\n", cfg.AI.Gemini.Model, cfg.AI.Gemini.FallbackModel)
			fmt.Fprintf(out, "  quality    %t\n", cfg.Quality.Enabled)
			fmt.Fprintln(out, headerStyle.Render("Services"))

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var firstErr error
			report := func(name string, err error, detail string) {
				if err != nil {
					fmt.Fprintf(out, "  %s %-10s %v\n", errorStyle.Render("✗"), name, err)
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				fmt.Fprintf(out, "  %s %-10s %s\n", outcomeStyles[pipeline.OutcomePublished].Render("✓"), name, detail)
			}

			report("wordpress", rt.Publisher.Ping(ctx), cfg.WordPress.URL)
			if rt.Telegram != nil {
				name, err := rt.Telegram.Ping(ctx)
				report("telegram", err, "@"+name)
			} else {
				skipped(out, "telegram")
			}
			if rt.Store != nil {
				report("database", rt.Store.Ping(ctx), fmt.Sprintf("%d queued ingest(s)", rt.Queue.Len()))
			} else {
				skipped(out, "database")
			}
			return firstErr
		},
	}
}

func skipped(out io.Writer, name string) {
	fmt.Fprintf(out, "  %s %-10s %s\n", mutedStyle.Render("-"), name, mutedStyle.Render("not configured"))
}
