package handlers

import (
	"fmt"
	"os"

	"blogpilot/internal/core"
	"blogpilot/internal/ingest"

	"github.com/spf13/cobra"
)

// NewIngestCmd creates the ingest command
func NewIngestCmd() *cobra.Command {
	var opts ingest.Options

	cmd := &cobra.Command{
		Use:   "ingest <file|dir>",
		Short: "Store already published articles in the article store",
		Long: `Tags, embeds and stores articles that were published before blogpilot
ran or outside of it, so duplicate checks, related links and series detection
can see them. A directory ingests every PDF, Markdown and text file directly
inside it. --url applies to a single file and skips it when that URL is
already stored. Nothing is published.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return core.E(core.KindInvalidPath, "ingest", "cannot read "+args[0], err)
			}

			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Store == nil || rt.Tagger == nil {
				return core.E(core.KindConfig, "ingest", "ingest needs database.connection_string", nil)
			}

			ing := ingest.New(rt.Tagger, rt.Store, rt.Extractor)
			var results []ingest.Result
			if info.IsDir() {
				if opts.URL != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("--url ignored for a directory"))
				}
				results, err = ing.Directory(cmd.Context(), args[0], opts)
			} else {
				results = []ingest.Result{ing.File(cmd.Context(), args[0], opts)}
			}
			failed := printIngestResults(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d articles failed to ingest", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "published URL of the article")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category name stored with the article")
	cmd.Flags().IntVar(&opts.CategoryID, "category-id", 0, "WordPress category ID stored with the article")
	return cmd
}
