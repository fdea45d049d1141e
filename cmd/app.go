package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/cache"
	"github.com/gridseek/utility-cli/internal/catalog"
	"github.com/gridseek/utility-cli/internal/collect"
	"github.com/gridseek/utility-cli/internal/dedup"
	"github.com/gridseek/utility-cli/internal/engine"
	"github.com/gridseek/utility-cli/internal/geocode"
	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/normalize"
	"github.com/gridseek/utility-cli/internal/overlap"
	"github.com/gridseek/utility-cli/internal/registry"
	"github.com/gridseek/utility-cli/internal/resilience"
	"github.com/gridseek/utility-cli/internal/score"
	"github.com/gridseek/utility-cli/internal/source"
	"github.com/gridseek/utility-cli/internal/spatial"
	"github.com/gridseek/utility-cli/internal/store"
)

// app holds the wired resolution stack for one command invocation.
type app struct {
	engine    *engine.Engine
	runner    *engine.BatchRunner
	collector *collect.Collector
	store     *store.SQLiteStore
	pool      *pgxpool.Pool
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			zap.L().Warn("app: close store", zap.Error(err))
		}
	}
}

// buildApp wires every stage from the loaded config. Optional sources that
// fail to load are skipped with a warning: a missing layer file degrades
// coverage, it does not block lookups.
func buildApp(ctx context.Context) (*app, error) {
	a := &app{}

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	a.store = st

	reg, err := registry.Load(cfg.Registry.Path, cfg.Registry.BlocklistPath)
	if err != nil {
		a.close()
		return nil, err
	}

	adapters, pool, err := buildAdapters(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.pool = pool

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		FailureThreshold: cfg.Sources.BreakerThreshold,
		Cooldown:         time.Duration(cfg.Sources.BreakerCooldownSec) * time.Second,
	})
	a.collector = collect.New(adapters, breakers, collect.Config{
		PoolSize:           cfg.Sources.PoolSize,
		TypeDeadline:       cfg.Sources.TypeDeadline(),
		EarlyExitThreshold: cfg.Sources.EarlyExitThreshold,
	})

	policy, err := overlap.LoadPolicy(cfg.Overlap.PolicyPath)
	if err != nil {
		a.close()
		return nil, err
	}

	scorer, err := score.NewScorer(cfg.Score, cfg.Sources.Tiers, nil)
	if err != nil {
		a.close()
		return nil, err
	}

	var matcher *catalog.Matcher
	if _, statErr := os.Stat(cfg.Catalog.Path); statErr == nil {
		entries, overrides, cerr := catalog.Load(cfg.Catalog.Path, cfg.Catalog.OverridesPath)
		if cerr != nil {
			a.close()
			return nil, cerr
		}
		matcher = catalog.NewMatcher(entries, overrides, cfg.Catalog.StrictCutoff, cfg.Catalog.LooseCutoff)
	} else {
		zap.L().Warn("app: catalog file absent, catalog matching disabled",
			zap.String("path", cfg.Catalog.Path))
	}

	auditor, err := engine.NewAuditor(cfg.Audit.Dir)
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine = engine.New(
		buildGeocoder(pool),
		a.collector,
		normalize.NewResolver(reg),
		overlap.NewResolver(policy),
		dedup.DefaultConfig(),
		scorer,
		matcher,
		cache.New(cfg.Cache, st),
		auditor,
	)
	a.runner = engine.NewBatchRunner(a.engine, st, cfg.Batch)
	return a, nil
}

// buildAdapters assembles the candidate sources in tier order.
func buildAdapters(ctx context.Context) ([]source.Adapter, *pgxpool.Pool, error) {
	timeout := cfg.Sources.SourceTimeout()
	tier := func(name string) float64 { return cfg.Sources.Tiers[name] }

	overrideSrc, err := source.NewOverrideSource(cfg.Sources.OverridesPath, tier("override"), timeout)
	if err != nil {
		return nil, nil, err
	}
	adapters := []source.Adapter{overrideSrc}

	if idx, lerr := spatial.LoadDir(cfg.Layers.Dir, cfg.Layers.Files); lerr != nil {
		zap.L().Warn("app: polygon layers unavailable", zap.Error(lerr))
	} else {
		adapters = append(adapters, source.NewLayersSource(idx, tier("layers"), timeout))
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.DatabaseURL != "" {
		p, perr := pgxpool.New(ctx, cfg.Postgres.DatabaseURL)
		if perr != nil {
			return nil, nil, eris.Wrap(perr, "app: connect postgres")
		}
		pool = p
		adapters = append(adapters, source.NewPostGISSource(pool, tier("postgis"), timeout))
	}

	if src, terr := source.NewZipTableSource(cfg.Sources.ZipTablePath, tier("ziptable"), timeout); terr != nil {
		zap.L().Warn("app: zip table unavailable", zap.Error(terr))
	} else {
		adapters = append(adapters, src)
	}
	if src, terr := source.NewCountyTableSource(cfg.Sources.CountyTablePath, tier("countytable"), timeout); terr != nil {
		zap.L().Warn("app: county table unavailable", zap.Error(terr))
	} else {
		adapters = append(adapters, src)
	}
	return adapters, pool, nil
}

// cacheKeyFor mirrors the engine's defaulting: an empty type list means all
// types.
func cacheKeyFor(address string, types []model.UtilityType) string {
	if len(types) == 0 {
		types = model.AllUtilityTypes()
	}
	return cache.Key(address, types)
}

// buildGeocoder assembles the provider chain in configured order.
func buildGeocoder(pool *pgxpool.Pool) *geocode.Chain {
	hc := &http.Client{Timeout: 30 * time.Second}

	var providers []geocode.Provider
	for _, name := range cfg.Geocode.Chain {
		switch name {
		case "census":
			providers = append(providers, geocode.NewCensus(cfg.Geocode.CensusRPS, hc))
		case "tiger":
			if pool == nil {
				zap.L().Debug("app: tiger geocoder skipped, no postgres pool")
				continue
			}
			providers = append(providers, geocode.NewTiger(pool, cfg.Geocode.TigerMaxRating))
		case "google":
			if cfg.Geocode.GoogleAPIKey == "" {
				zap.L().Debug("app: google geocoder skipped, no api key")
				continue
			}
			providers = append(providers, geocode.NewGoogle(cfg.Geocode.GoogleAPIKey, hc))
		default:
			zap.L().Warn("app: unknown geocode provider in chain", zap.String("provider", name))
		}
	}
	return geocode.NewChain(cfg.Geocode, providers...)
}
