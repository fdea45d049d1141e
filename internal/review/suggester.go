// Package review drafts correction-override suggestions from audit records
// that were flagged for review. Strictly offline tooling: suggestions are
// written to a file for a human to vet, never applied to live lookups.
package review

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/engine"
	"github.com/gridseek/utility-cli/internal/model"
)

// Completer is the single model operation the suggester needs; tests fake it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// sdkCompleter backs Completer with the official SDK.
type sdkCompleter struct {
	client sdk.Client
	model  string
}

// NewCompleter creates an SDK-backed Completer.
func NewCompleter(apiKey, modelID string) Completer {
	return &sdkCompleter{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  modelID,
	}
}

func (c *sdkCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 4096,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", eris.Wrap(err, "review: create message")
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// Suggestion is one drafted override entry, in the shape the override
// source's YAML expects plus a rationale for the reviewer.
type Suggestion struct {
	Address     string            `yaml:"address,omitempty"`
	Zip5        string            `yaml:"zip5,omitempty"`
	UtilityType model.UtilityType `yaml:"utility_type"`
	Provider    string            `yaml:"provider"`
	CanonicalID string            `yaml:"canonical_id,omitempty"`
	Confidence  float64           `yaml:"confidence,omitempty"`
	Rationale   string            `yaml:"rationale,omitempty"`
}

const systemPrompt = `You review utility provider resolutions that scored below the
confidence cutoff. For each record, either propose a correction override or
skip it. Respond with only a YAML document:

suggestions:
  - address: "..."        # copy from the record
    utility_type: electric
    provider: "..."       # the provider you believe serves this address
    canonical_id: "..."   # only if you are certain of the registry id
    confidence: 90        # 0-98, your certainty
    rationale: "..."      # one sentence

Skip records where the flagged answer already looks right. Never invent
canonical ids.`

// Suggester turns flagged audit records into draft overrides.
type Suggester struct {
	completer Completer
	cfg       config.ReviewConfig
}

// NewSuggester creates a Suggester.
func NewSuggester(completer Completer, cfg config.ReviewConfig) *Suggester {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 50
	}
	return &Suggester{completer: completer, cfg: cfg}
}

// Suggest reads audit JSONL files under auditDir, collects up to MaxRecords
// flagged resolutions, and writes drafted overrides to outPath. Returns how
// many suggestions were written.
func (s *Suggester) Suggest(ctx context.Context, auditDir, outPath string) (int, error) {
	flagged, err := collectFlagged(auditDir, s.cfg.MaxRecords)
	if err != nil {
		return 0, err
	}
	if len(flagged) == 0 {
		zap.L().Info("review: nothing flagged for review")
		return 0, nil
	}

	prompt, err := buildPrompt(flagged)
	if err != nil {
		return 0, err
	}

	raw, err := s.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return 0, err
	}

	suggestions, err := parseSuggestions(raw)
	if err != nil {
		return 0, err
	}

	out, err := yaml.Marshal(struct {
		Suggestions []Suggestion `yaml:"suggestions"`
	}{Suggestions: suggestions})
	if err != nil {
		return 0, eris.Wrap(err, "review: marshal suggestions")
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return 0, eris.Wrapf(err, "review: write %s", outPath)
	}
	return len(suggestions), nil
}

// flaggedRecord is the trimmed view of one audit line sent to the model.
type flaggedRecord struct {
	Address     string            `json:"address"`
	UtilityType model.UtilityType `json:"utility_type"`
	Provider    string            `json:"provider,omitempty"`
	Confidence  int               `json:"confidence"`
	Reason      string            `json:"selection_reason,omitempty"`
}

// collectFlagged scans audit files newest-first for needs_review results.
func collectFlagged(auditDir string, maxRecords int) ([]flaggedRecord, error) {
	paths, err := filepath.Glob(filepath.Join(auditDir, "*.jsonl"))
	if err != nil {
		return nil, eris.Wrap(err, "review: glob audit dir")
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var out []flaggedRecord
	for _, path := range paths {
		if len(out) >= maxRecords {
			break
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "review: open %s", path)
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() && len(out) < maxRecords {
			var rec engine.AuditRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				zap.L().Warn("review: skipping corrupt audit line", zap.String("file", path))
				continue
			}
			for t, res := range rec.Results {
				if res == nil || !res.NeedsReview {
					continue
				}
				out = append(out, flaggedRecord{
					Address:     rec.Address,
					UtilityType: t,
					Provider:    res.DisplayName,
					Confidence:  res.ConfidenceScore,
					Reason:      res.SelectionReason,
				})
			}
		}
		f.Close() //nolint:errcheck
		if err := scanner.Err(); err != nil {
			return nil, eris.Wrapf(err, "review: scan %s", path)
		}
	}
	return out, nil
}

func buildPrompt(flagged []flaggedRecord) (string, error) {
	body, err := json.MarshalIndent(flagged, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "review: marshal flagged records")
	}
	return fmt.Sprintf("Flagged resolutions:\n\n%s", body), nil
}

// parseSuggestions pulls the YAML document out of the model response,
// tolerating a fenced code block around it.
func parseSuggestions(raw string) ([]Suggestion, error) {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "```"); idx >= 0 {
		raw = raw[idx+3:]
		raw = strings.TrimPrefix(raw, "yaml")
		if end := strings.Index(raw, "```"); end >= 0 {
			raw = raw[:end]
		}
	}

	var doc struct {
		Suggestions []Suggestion `yaml:"suggestions"`
	}
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, eris.Wrap(err, "review: parse model response")
	}

	// Drop entries missing the fields an override needs.
	var out []Suggestion
	for _, sg := range doc.Suggestions {
		if sg.Provider == "" || !sg.UtilityType.Valid() {
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}
