package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Canonical provider registry tools",
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the registry and blocklist without starting the engine",
	Long:  "Runs the same integrity checks as startup: alias collisions, duplicate canonical ids, and blocklisted names reachable as display values. Exits non-zero on any violation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.Load(cfg.Registry.Path, cfg.Registry.BlocklistPath)
		if err != nil {
			return err
		}

		fmt.Printf("registry ok: version %q, %d providers\n", reg.Version(), reg.Len())
		for _, t := range model.AllUtilityTypes() {
			fmt.Printf("  %-8s %d\n", t, len(reg.ForType(t)))
		}
		return nil
	},
}

func init() {
	registryCmd.AddCommand(registryValidateCmd)
	rootCmd.AddCommand(registryCmd)
}
