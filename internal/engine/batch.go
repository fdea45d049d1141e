package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/geocode"
	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/store"
)

// BatchRunner resolves address lists concurrently with checkpointed
// progress, so an interrupted run resumes instead of restarting.
type BatchRunner struct {
	engine *Engine
	store  store.Store // nil disables checkpointing
	cfg    config.BatchConfig
}

// NewBatchRunner creates a BatchRunner. st may be nil.
func NewBatchRunner(engine *Engine, st store.Store, cfg config.BatchConfig) *BatchRunner {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 16
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 100
	}
	return &BatchRunner{engine: engine, store: st, cfg: cfg}
}

// BatchOutcome summarizes one batch run.
type BatchOutcome struct {
	BatchID   string
	Results   []*model.LookupResult // positional with the input addresses
	Succeeded int
	Failed    int
	Resumed   int // addresses skipped via checkpoint
}

// Run resolves every address for the given types. A non-empty batchID with a
// stored checkpoint resumes past already-processed addresses. Per-address
// failures are recorded, not fatal; the only hard error is context
// cancellation.
func (b *BatchRunner) Run(ctx context.Context, batchID string, addresses []string, types []model.UtilityType) (*BatchOutcome, error) {
	outcome := &BatchOutcome{
		BatchID: batchID,
		Results: make([]*model.LookupResult, len(addresses)),
	}

	startIdx := 0
	if b.store != nil && batchID != "" {
		cp, err := b.store.GetCheckpoint(ctx, batchID)
		if err != nil {
			zap.L().Warn("batch: read checkpoint failed, starting fresh",
				zap.String("batch_id", batchID), zap.Error(err))
		} else if cp != nil {
			startIdx = cp.LastIndex + 1
			outcome.Succeeded = cp.Succeeded
			outcome.Failed = cp.Failed
			outcome.Resumed = startIdx
			zap.L().Info("batch: resuming from checkpoint",
				zap.String("batch_id", batchID),
				zap.Int("start_index", startIdx),
			)
		}
	}
	if startIdx >= len(addresses) {
		return outcome, nil
	}

	// Pre-warm the geocode cache with one chunked batch call; the individual
	// lookups then hit that cache instead of the upstream APIs one by one.
	pending := make([]geocode.Address, 0, len(addresses)-startIdx)
	for _, a := range addresses[startIdx:] {
		pending = append(pending, geocode.ParseOneLine(a))
	}
	if _, err := b.engine.geocoder.GeocodeBatch(ctx, pending); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		zap.L().Warn("batch: geocode pre-warm failed, lookups will geocode individually", zap.Error(err))
	}

	// The pool completes lookups in any order, but a checkpoint's LastIndex
	// promises that every address up to it is done. Track the highest
	// contiguous completed index and only checkpoint that, with the
	// success/failure counts accumulated up to the same point.
	var mu sync.Mutex
	processed := 0
	done := make(map[int]bool) // completed index -> lookup succeeded
	contiguous := startIdx - 1
	cpSucceeded := outcome.Succeeded
	cpFailed := outcome.Failed

	advance := func() {
		for {
			ok, exists := done[contiguous+1]
			if !exists {
				return
			}
			delete(done, contiguous+1)
			contiguous++
			if ok {
				cpSucceeded++
			} else {
				cpFailed++
			}
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.cfg.PoolSize)

	for i := startIdx; i < len(addresses); i++ {
		eg.Go(func() error {
			res, err := b.engine.Lookup(egCtx, addresses[i], types)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				outcome.Failed++
				zap.L().Warn("batch: lookup failed",
					zap.String("address", addresses[i]), zap.Error(err))
			} else {
				outcome.Results[i] = res
				outcome.Succeeded++
			}
			done[i] = err == nil
			advance()
			processed++
			if processed%b.cfg.CheckpointInterval == 0 {
				b.checkpoint(egCtx, batchID, contiguous, cpSucceeded, cpFailed)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		mu.Lock()
		b.checkpoint(context.WithoutCancel(ctx), batchID, contiguous, cpSucceeded, cpFailed)
		mu.Unlock()
		return outcome, err
	}

	b.checkpoint(ctx, batchID, contiguous, cpSucceeded, cpFailed)
	return outcome, nil
}

func (b *BatchRunner) checkpoint(ctx context.Context, batchID string, lastIndex, succeeded, failed int) {
	if b.store == nil || batchID == "" || lastIndex < 0 {
		return
	}
	err := b.store.PutCheckpoint(ctx, store.Checkpoint{
		BatchID:   batchID,
		LastIndex: lastIndex,
		Succeeded: succeeded,
		Failed:    failed,
	})
	if err != nil {
		zap.L().Warn("batch: write checkpoint failed",
			zap.String("batch_id", batchID), zap.Error(err))
	}
}
