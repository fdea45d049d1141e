package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gridseek/utility-cli/internal/model"
)

var (
	lookupTypes   string
	lookupAsJSON  bool
	lookupNoCache bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <address>",
	Short: "Resolve the utility providers serving one address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseTypes(lookupTypes)
		if err != nil {
			return err
		}

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if lookupNoCache {
			a.engine.Cache().Invalidate(cmd.Context(), cacheKeyFor(args[0], types))
		}

		result, err := a.engine.Lookup(cmd.Context(), args[0], types)
		if err != nil {
			return err
		}

		if lookupAsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printResult(result)
		return nil
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupTypes, "types", "", "comma-separated utility types (default: all)")
	lookupCmd.Flags().BoolVar(&lookupAsJSON, "json", false, "emit the full result as JSON")
	lookupCmd.Flags().BoolVar(&lookupNoCache, "no-cache", false, "bypass the result cache for this lookup")
	rootCmd.AddCommand(lookupCmd)
}

// parseTypes parses a comma-separated type list; empty means all types.
func parseTypes(s string) ([]model.UtilityType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []model.UtilityType
	for _, part := range strings.Split(s, ",") {
		t := model.UtilityType(strings.ToLower(strings.TrimSpace(part)))
		if !t.Valid() {
			return nil, fmt.Errorf("unsupported utility type %q", part)
		}
		out = append(out, t)
	}
	return out, nil
}

func printResult(result *model.LookupResult) {
	fmt.Printf("address: %s\n", result.Address)
	if result.Geocode != nil && result.Geocode.Matched {
		fmt.Printf("location: %.6f, %.6f (%s)\n",
			result.Geocode.Latitude, result.Geocode.Longitude, result.Geocode.Source)
	} else {
		fmt.Println("location: geocoding failed")
	}
	if result.CacheHit {
		fmt.Println("(cached)")
	}
	fmt.Println()

	for _, t := range model.AllUtilityTypes() {
		res, ok := result.Results[t]
		if !ok || res == nil {
			continue
		}
		if res.DisplayName == "" {
			fmt.Printf("%-8s  unresolved (%s)\n", t, res.SelectionReason)
			continue
		}
		flag := ""
		if res.NeedsReview {
			flag = "  [needs review]"
		}
		fmt.Printf("%-8s  %s  (confidence %d, %s)%s\n",
			t, res.DisplayName, res.ConfidenceScore, res.ConfidenceLevel, flag)
		if res.CatalogMatched {
			fmt.Printf("          catalog: %s\n", res.CatalogID)
		}
		for _, alt := range res.Alternatives {
			fmt.Printf("          alt: %s (confidence %d, via %s)\n",
				alt.DisplayName, alt.Confidence, alt.Source)
		}
	}
	fmt.Printf("\nlatency: %dms\n", result.LatencyMS)
}
