package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridseek/utility-cli/internal/review"
)

var reviewOut string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review tooling for low-confidence resolutions",
}

var reviewSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Draft correction overrides from flagged audit records",
	Long:  "Scans the audit trail for resolutions flagged needs_review and drafts override entries for human vetting. Suggestions are written to a file, never applied automatically.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Review.AnthropicKey == "" {
			return eris.New("review.anthropic_key is not configured")
		}

		suggester := review.NewSuggester(
			review.NewCompleter(cfg.Review.AnthropicKey, cfg.Review.Model),
			cfg.Review,
		)
		n, err := suggester.Suggest(cmd.Context(), cfg.Audit.Dir, reviewOut)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d suggestion(s) to %s\n", n, reviewOut)
		return nil
	},
}

func init() {
	reviewSuggestCmd.Flags().StringVar(&reviewOut, "out", "override_suggestions.yaml", "output path for drafted overrides")
	reviewCmd.AddCommand(reviewSuggestCmd)
	rootCmd.AddCommand(reviewCmd)
}
