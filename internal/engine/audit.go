package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/collect"
	"github.com/gridseek/utility-cli/internal/model"
)

// AuditRecord is one JSONL line documenting how a lookup was resolved:
// every source queried, every status, and the final answer per type.
type AuditRecord struct {
	ID        string                                      `json:"id"`
	Address   string                                      `json:"address"`
	Timestamp time.Time                                   `json:"timestamp"`
	Geocode   *model.GeocodedAddress                      `json:"geocode,omitempty"`
	Queries   map[model.UtilityType][]collect.QueryRecord `json:"queries,omitempty"`
	Results   map[model.UtilityType]*model.ResolvedResult `json:"results,omitempty"`
	LatencyMS int64                                       `json:"latency_ms"`
	CacheHit  bool                                        `json:"cache_hit,omitempty"`
}

// Auditor appends audit records to a daily JSONL file. Append-only; a write
// failure is logged, never propagated into the lookup path.
type Auditor struct {
	dir string
	mu  sync.Mutex
}

// NewAuditor creates an Auditor writing under dir. An empty dir disables
// auditing.
func NewAuditor(dir string) (*Auditor, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "engine: create audit dir %s", dir)
	}
	return &Auditor{dir: dir}, nil
}

// Write appends one record. Safe on a nil Auditor.
func (a *Auditor) Write(rec AuditRecord) {
	if a == nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("audit: marshal record", zap.Error(err))
		return
	}

	path := filepath.Join(a.dir, rec.Timestamp.UTC().Format("2006-01-02")+".jsonl")

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		zap.L().Warn("audit: open file", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(line, '\n')); err != nil {
		zap.L().Warn("audit: write record", zap.Error(err))
	}
}
