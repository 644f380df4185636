package handlers

import (
	"fmt"
	"os"

	"blogpilot/internal/scanner"

	"github.com/spf13/cobra"
)

// NewInitDirsCmd creates the init-dirs command
func NewInitDirsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-dirs",
		Short: "Create the input, output and category directories",
		Long: `Create the input, processed, drafts, review and data directories, and
one input/<Major>/<Sub>_<id> directory per entry of the category map.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			for _, dir := range []string{cfg.Paths.Input, cfg.Paths.Processed, cfg.Paths.Drafts, cfg.Paths.Review, cfg.Paths.Data} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create %s: %w", dir, err)
				}
			}

			if cfg.CategoriesFile == "" {
				fmt.Fprintln(out, mutedStyle.Render("No category map configured, created top-level directories only"))
				return nil
			}
			cats, err := scanner.LoadCategories(cfg.CategoriesFile)
			if err != nil {
				return fmt.Errorf("failed to load category map: %w", err)
			}
			n, err := scanner.EnsureCategoryDirs(cfg.Paths.Input, cats)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ Created %d category director(ies) for %d major categories under %s\n", n, len(cats), cfg.Paths.Input)
			return nil
		},
	}
}
