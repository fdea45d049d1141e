// Package collect fans one lookup out across the candidate sources and
// gathers every non-null result.
package collect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/resilience"
	"github.com/gridseek/utility-cli/internal/source"
)

// Query statuses recorded for the audit trail.
const (
	StatusOK       = "ok"
	StatusEmpty    = "empty"
	StatusError    = "error"
	StatusTimeout  = "timeout"
	StatusSkipped  = "skipped_breaker"
	StatusCanceled = "canceled"
)

// QueryRecord documents one source query for the audit trail.
type QueryRecord struct {
	Source     string `json:"source"`
	Status     string `json:"status"`
	Candidates int    `json:"candidates"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Config tunes the collector.
type Config struct {
	// PoolSize bounds concurrent source queries per collection.
	PoolSize int
	// TypeDeadline bounds the total wait for one utility type, independent
	// of per-source timeouts.
	TypeDeadline time.Duration
	// EarlyExitThreshold cancels remaining in-flight queries once any
	// candidate's base confidence reaches it: further waiting cannot change
	// the outcome.
	EarlyExitThreshold float64
}

// Collector queries an ordered set of source adapters concurrently and
// keeps all non-null candidates. There is deliberately no short-circuit on
// first hit: downstream agreement counting needs the full set.
type Collector struct {
	adapters []source.Adapter
	breakers *resilience.BreakerSet
	cfg      Config
}

// New creates a Collector over the ordered adapters.
func New(adapters []source.Adapter, breakers *resilience.BreakerSet, cfg Config) *Collector {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.TypeDeadline <= 0 {
		cfg.TypeDeadline = 10 * time.Second
	}
	if cfg.EarlyExitThreshold <= 0 {
		cfg.EarlyExitThreshold = 97
	}
	return &Collector{adapters: adapters, breakers: breakers, cfg: cfg}
}

// Breakers exposes the per-source breaker set for status reporting.
func (c *Collector) Breakers() *resilience.BreakerSet { return c.breakers }

// Collect queries every source supporting the utility type. Source failures
// and timeouts are absorbed: they feed the breaker and the audit record but
// never fail the collection. Candidate order follows adapter order, so the
// result is deterministic regardless of completion order.
func (c *Collector) Collect(ctx context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, []QueryRecord) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TypeDeadline)
	defer cancel()

	perAdapter := make([][]model.Candidate, len(c.adapters))
	records := make([]QueryRecord, len(c.adapters))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.PoolSize)

	for i, a := range c.adapters {
		if !source.Supports(a, t) {
			records[i] = QueryRecord{Source: a.Name(), Status: StatusEmpty}
			continue
		}

		eg.Go(func() error {
			records[i] = c.queryOne(egCtx, a, geo, t, func(cands []model.Candidate) {
				mu.Lock()
				defer mu.Unlock()
				perAdapter[i] = cands
				for _, cand := range cands {
					if cand.BaseConfidence >= c.cfg.EarlyExitThreshold {
						// Nothing a slower source returns can outrank this.
						cancel()
						break
					}
				}
			})
			return nil
		})
	}

	_ = eg.Wait()

	var out []model.Candidate
	for _, cands := range perAdapter {
		out = append(out, cands...)
	}

	// Distinguish queries cut short by the early exit from real timeouts.
	for i := range records {
		if records[i].Status == StatusTimeout && ctx.Err() == context.Canceled {
			records[i].Status = StatusCanceled
		}
	}

	return out, records
}

// queryOne runs a single adapter query through its breaker and timeout.
func (c *Collector) queryOne(ctx context.Context, a source.Adapter, geo *model.GeocodedAddress, t model.UtilityType, deliver func([]model.Candidate)) QueryRecord {
	rec := QueryRecord{Source: a.Name()}

	breaker := c.breakers.Get(a.Name())
	if err := breaker.Allow(); err != nil {
		rec.Status = StatusSkipped
		zap.L().Debug("collect: source in cool-down, skipped",
			zap.String("source", a.Name()),
			zap.String("utility_type", string(t)),
		)
		return rec
	}

	qCtx, qCancel := context.WithTimeout(ctx, a.Timeout())
	defer qCancel()

	start := time.Now()
	cands, err := a.Query(qCtx, geo, t)
	rec.DurationMS = time.Since(start).Milliseconds()

	// An early-exit cancellation is not a source failure; don't let it trip
	// the breaker.
	if ctx.Err() != context.Canceled {
		breaker.Record(err)
	}

	switch {
	case err != nil:
		rec.Error = err.Error()
		if qCtx.Err() != nil {
			rec.Status = StatusTimeout
		} else {
			rec.Status = StatusError
		}
		zap.L().Warn("collect: source query failed",
			zap.String("source", a.Name()),
			zap.String("utility_type", string(t)),
			zap.Error(err),
		)
	case len(cands) == 0:
		rec.Status = StatusEmpty
	default:
		rec.Status = StatusOK
		rec.Candidates = len(cands)
		deliver(cands)
	}
	return rec
}
