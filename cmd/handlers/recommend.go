package handlers

import (
	"errors"
	"fmt"

	"blogpilot/internal/core"
	"blogpilot/internal/recommend"

	"github.com/spf13/cobra"
)

// NewRecommendCmd creates the recommend command
func NewRecommendCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Suggest article topics that fill gaps in the archive",
		Long: `Looks for tag combinations that are rare or have gone stale and for
articles in sparse regions of the embedding space, then asks Gemini for
topics that would fill those gaps. Needs a database with at least a handful
of stored articles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Store == nil {
				return core.E(core.KindConfig, "recommend", "recommend needs database.connection_string", nil)
			}

			rec := recommend.New(rt.Store, rt.Writer, recommend.DefaultConfig())
			rep, err := rec.Recommend(cmd.Context(), top)
			if errors.Is(err, recommend.ErrTooFewArticles) {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(err.Error()+"; run 'blogpilot ingest' first"))
				return nil
			}
			if err != nil {
				return err
			}
			printRecommendations(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", recommend.DefaultTopN, "number of topics to suggest")
	return cmd
}
