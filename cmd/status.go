package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gridseek/utility-cli/internal/fetch"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show source, layer, and cache health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Println("sources:")
		names := make([]string, 0, len(cfg.Sources.Tiers))
		for name := range cfg.Sources.Tiers {
			names = append(names, name)
		}
		sort.Strings(names)
		breakers := a.collector.Breakers()
		for _, name := range names {
			fmt.Printf("  %-12s breaker %s  (tier %.0f)\n",
				name, breakers.Get(name).State(), cfg.Sources.Tiers[name])
		}

		fmt.Println("\nlayers:")
		for _, st := range fetch.Status(cfg.Layers.Dir, cfg.Layers.Files) {
			mark := "present"
			if !st.Present {
				mark = "missing"
			}
			fmt.Printf("  %-8s %s\n", st.UtilityType, mark)
		}

		live, expired := a.engine.Cache().Stats()
		fmt.Printf("\ncache: %d live, %d expired (in-memory)\n", live, expired)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
