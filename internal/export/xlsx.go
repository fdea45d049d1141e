// Package export writes batch lookup results to spreadsheet workbooks for
// review outside the CLI.
package export

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/gridseek/utility-cli/internal/model"
)

// WriteXLSX writes one row per address/utility-type pair, plus a summary
// sheet, to path. Nil results (failed lookups) produce a row with empty
// provider columns so the export stays positional with the input.
func WriteXLSX(path string, addresses []string, results []*model.LookupResult) error {
	if len(addresses) != len(results) {
		return eris.Errorf("export: %d addresses but %d results", len(addresses), len(results))
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("results")
	if err != nil {
		return eris.Wrap(err, "export: add results sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"address", "utility_type", "provider", "canonical_id",
		"confidence", "level", "needs_review", "selection_reason",
		"agreeing_sources", "catalog_id",
	} {
		header.AddCell().SetString(h)
	}

	var total, resolved, needsReview int
	for i, addr := range addresses {
		r := results[i]
		if r == nil {
			row := sheet.AddRow()
			row.AddCell().SetString(addr)
			row.AddCell().SetString("")
			row.AddCell().SetString("")
			continue
		}
		for _, t := range model.AllUtilityTypes() {
			res, ok := r.Results[t]
			if !ok || res == nil {
				continue
			}
			total++
			if res.DisplayName != "" {
				resolved++
			}
			if res.NeedsReview {
				needsReview++
			}

			row := sheet.AddRow()
			row.AddCell().SetString(addr)
			row.AddCell().SetString(string(t))
			row.AddCell().SetString(res.DisplayName)
			row.AddCell().SetString(res.CanonicalID)
			row.AddCell().SetInt(res.ConfidenceScore)
			row.AddCell().SetString(string(res.ConfidenceLevel))
			row.AddCell().SetBool(res.NeedsReview)
			row.AddCell().SetString(res.SelectionReason)
			row.AddCell().SetString(strings.Join(res.AgreeingSources, ", "))
			row.AddCell().SetString(res.CatalogID)
		}
	}

	summary, err := f.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	for _, kv := range []struct {
		key   string
		value int
	}{
		{"addresses", len(addresses)},
		{"type_results", total},
		{"resolved", resolved},
		{"needs_review", needsReview},
	} {
		row := summary.AddRow()
		row.AddCell().SetString(kv.key)
		row.AddCell().SetInt(kv.value)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
