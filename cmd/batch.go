package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gridseek/utility-cli/internal/engine"
	"github.com/gridseek/utility-cli/internal/export"
)

var (
	batchInput  string
	batchOutput string
	batchJSON   string
	batchID     string
	batchTypes  string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve providers for a file of addresses",
	Long:  "Reads one address per line, resolves each concurrently, and writes an XLSX workbook and/or JSONL output. Progress is checkpointed under --id so an interrupted run resumes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchInput == "" {
			return eris.New("--input is required")
		}
		if batchOutput == "" && batchJSON == "" {
			return eris.New("at least one of --output or --json-out is required")
		}
		types, err := parseTypes(batchTypes)
		if err != nil {
			return err
		}

		addresses, err := readAddresses(batchInput)
		if err != nil {
			return err
		}
		if len(addresses) == 0 {
			return eris.Errorf("no addresses in %s", batchInput)
		}

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		outcome, err := a.runner.Run(cmd.Context(), batchID, addresses, types)
		if err != nil {
			return err
		}

		if batchOutput != "" {
			if err := export.WriteXLSX(batchOutput, addresses, outcome.Results); err != nil {
				return err
			}
		}
		if batchJSON != "" {
			if err := writeJSONL(batchJSON, outcome); err != nil {
				return err
			}
		}

		fmt.Printf("batch complete: %d succeeded, %d failed", outcome.Succeeded, outcome.Failed)
		if outcome.Resumed > 0 {
			fmt.Printf(" (%d resumed from checkpoint)", outcome.Resumed)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "input file, one address per line")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "XLSX output path")
	batchCmd.Flags().StringVar(&batchJSON, "json-out", "", "JSONL output path")
	batchCmd.Flags().StringVar(&batchID, "id", "", "batch identifier for checkpointed resume")
	batchCmd.Flags().StringVar(&batchTypes, "types", "", "comma-separated utility types (default: all)")
	rootCmd.AddCommand(batchCmd)
}

func readAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open input %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read input %s", path)
	}
	return out, nil
}

func writeJSONL(path string, outcome *engine.BatchOutcome) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	for _, r := range outcome.Results {
		if r == nil {
			continue
		}
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "write jsonl")
		}
	}
	return nil
}
