/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blogpilot/internal/config"
	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blogpilot",
		Short: "Blogpilot turns documents dropped into category folders into published blog posts.",
		Long: `Blogpilot watches an input tree laid out as <Major>/<Sub>_<id>/<file>,
extracts each PDF, Markdown or text document, writes an article with Gemini,
reviews it, publishes it to WordPress and announces it on Telegram.

With a database configured it also skips duplicates, links related articles
and keeps multi-part series navigable.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.blogpilot.yaml or $HOME/.blogpilot.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewOnceCmd())
	rootCmd.AddCommand(NewProcessCmd())
	rootCmd.AddCommand(NewRetryIngestsCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewRecommendCmd())
	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewCheckCmd())
	rootCmd.AddCommand(NewInitDirsCmd())
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command. Auth and configuration failures exit with
// status 2 so supervisors do not restart into the same error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		stop()
		if core.IsKind(err, core.KindAuth) || core.IsKind(err, core.KindConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig reads configuration and switches the logger to the configured
// level and format.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Setup(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
	return cfg, nil
}
