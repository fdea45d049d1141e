// Package engine orchestrates a full lookup: geocode, collect, normalize,
// resolve overlaps, merge, score, and catalog-match, per requested utility
// type.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/cache"
	"github.com/gridseek/utility-cli/internal/catalog"
	"github.com/gridseek/utility-cli/internal/collect"
	"github.com/gridseek/utility-cli/internal/dedup"
	"github.com/gridseek/utility-cli/internal/geocode"
	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/normalize"
	"github.com/gridseek/utility-cli/internal/overlap"
	"github.com/gridseek/utility-cli/internal/score"
)

// maxAlternatives bounds the non-winning resolutions carried in a result.
const maxAlternatives = 3

// Geocoder is the part of the geocode chain the engine uses.
type Geocoder interface {
	Geocode(ctx context.Context, addr geocode.Address) (*model.GeocodedAddress, error)
	GeocodeBatch(ctx context.Context, addrs []geocode.Address) ([]model.GeocodedAddress, error)
}

// Engine wires the resolution stages together. All stages are read-only at
// lookup time; one Engine serves concurrent lookups.
type Engine struct {
	geocoder  Geocoder
	collector *collect.Collector
	resolver  *normalize.Resolver
	overlap   *overlap.Resolver
	dedupCfg  dedup.Config
	scorer    *score.Scorer
	matcher   *catalog.Matcher // nil disables catalog matching
	cache     *cache.Cache     // nil disables caching
	auditor   *Auditor         // nil disables auditing
}

// New creates an Engine. matcher, resultCache, and auditor may be nil.
func New(
	geocoder Geocoder,
	collector *collect.Collector,
	resolver *normalize.Resolver,
	overlapResolver *overlap.Resolver,
	dedupCfg dedup.Config,
	scorer *score.Scorer,
	matcher *catalog.Matcher,
	resultCache *cache.Cache,
	auditor *Auditor,
) *Engine {
	return &Engine{
		geocoder:  geocoder,
		collector: collector,
		resolver:  resolver,
		overlap:   overlapResolver,
		dedupCfg:  dedupCfg,
		scorer:    scorer,
		matcher:   matcher,
		cache:     resultCache,
		auditor:   auditor,
	}
}

// Collector exposes the collector for status reporting.
func (e *Engine) Collector() *collect.Collector { return e.collector }

// Cache exposes the result cache for status reporting and invalidation.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Lookup resolves the requested utility types for one address. Source
// failures degrade the answer instead of failing it: a type nothing could
// resolve comes back with no provider and needs_review set. The only hard
// error is an invalid request or a canceled context.
func (e *Engine) Lookup(ctx context.Context, address string, types []model.UtilityType) (*model.LookupResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, eris.New("engine: empty address")
	}
	if len(types) == 0 {
		types = model.AllUtilityTypes()
	}
	for _, t := range types {
		if !t.Valid() {
			return nil, eris.Errorf("engine: unsupported utility type %q", t)
		}
	}

	key := cache.Key(address, types)
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			out := *cached
			out.CacheHit = true
			// Cache hits still leave an audit trail; recalibration needs to
			// see every answer served, not just the freshly computed ones.
			e.auditor.Write(AuditRecord{
				ID:        out.ID,
				Address:   address,
				Timestamp: time.Now().UTC(),
				Geocode:   out.Geocode,
				Results:   out.Results,
				CacheHit:  true,
			})
			return &out, nil
		}
	}

	start := time.Now()
	result := &model.LookupResult{
		ID:        uuid.New().String(),
		Address:   address,
		Results:   make(map[model.UtilityType]*model.ResolvedResult, len(types)),
		Timestamp: start.UTC(),
	}
	queries := make(map[model.UtilityType][]collect.QueryRecord, len(types))

	geo, err := e.geocoder.Geocode(ctx, geocode.ParseOneLine(address))
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "engine: geocode")
		}
		zap.L().Error("engine: geocode failed", zap.String("address", address), zap.Error(err))
		geo = &model.GeocodedAddress{Matched: false}
	}
	// Downstream override matching keys on the verbatim input, not the
	// geocoder's normalized one-line form.
	geo.InputAddress = address
	result.Geocode = geo

	for _, t := range types {
		if !geo.Matched {
			result.Results[t] = unresolved(t, "geocode_unmatched")
			continue
		}
		res, recs := e.resolveType(ctx, geo, t)
		result.Results[t] = res
		queries[t] = recs
	}

	result.LatencyMS = time.Since(start).Milliseconds()

	if e.cache != nil {
		e.cache.Put(ctx, key, *result)
	}
	e.auditor.Write(AuditRecord{
		ID:        result.ID,
		Address:   address,
		Timestamp: result.Timestamp,
		Geocode:   geo,
		Queries:   queries,
		Results:   result.Results,
		LatencyMS: result.LatencyMS,
	})
	return result, nil
}

// resolveType runs the per-type pipeline: collect, normalize, merge,
// resolve overlap, score, catalog-match.
func (e *Engine) resolveType(ctx context.Context, geo *model.GeocodedAddress, t model.UtilityType) (*model.ResolvedResult, []collect.QueryRecord) {
	cands, recs := e.collector.Collect(ctx, geo, t)
	if len(cands) == 0 {
		return unresolved(t, "no_candidates"), recs
	}

	for i := range cands {
		if cands[i].CanonicalID != "" {
			continue // override candidates arrive pre-resolved
		}
		m := e.resolver.Resolve(cands[i].RawName, t, geo.State, cands[i].RegulatorID)
		cands[i].CanonicalID = m.CanonicalID
		cands[i].DisplayName = m.DisplayName
		cands[i].MatchMethod = m.Method
		cands[i].MatchScore = m.Score
	}

	merged := dedup.Merge(cands, e.dedupCfg)
	region := overlap.RegionContext{State: geo.State, County: geo.County}
	ordered, reason := e.overlap.Resolve(merged, region)
	if len(ordered) == 0 {
		return unresolved(t, "no_candidates"), recs
	}

	winner := ordered[0]
	sc := e.scorer.Score(winner, score.Region{State: geo.State, County: geo.County})

	res := &model.ResolvedResult{
		UtilityType:        t,
		CanonicalID:        winner.CanonicalID,
		DisplayName:        winner.DisplayName,
		ConfidenceScore:    sc.Score,
		ConfidenceLevel:    sc.Level,
		SelectionReason:    reason,
		Factors:            sc.Factors,
		AgreeingSources:    winner.AgreeingSources,
		DisagreeingSources: disagreeing(ordered),
		NeedsReview:        sc.NeedsReview,
	}
	if res.DisplayName == "" {
		res.DisplayName = winner.RawName
	}

	for _, alt := range ordered[1:] {
		if len(res.Alternatives) >= maxAlternatives {
			break
		}
		altScore := e.scorer.Score(alt, score.Region{State: geo.State, County: geo.County})
		res.Alternatives = append(res.Alternatives, model.Alternative{
			CanonicalID: alt.CanonicalID,
			DisplayName: displayOf(alt),
			Confidence:  altScore.Score,
			Source:      alt.SourceName,
			Score:       e.overlap.Score(alt),
		})
	}

	if e.matcher != nil && res.DisplayName != "" {
		if id, ok := winner.Attributes["catalog_id"]; ok && id != "" {
			// Correction overrides may pin the catalog identifier directly.
			res.CatalogID = id
			res.CatalogMatchScore = 1
			res.CatalogMatched = true
		} else if cm, ok := e.matcher.MatchName(res.DisplayName, t, geo.State); ok {
			res.CatalogID = cm.CatalogID
			res.CatalogMatchScore = cm.Score
			res.CatalogMatched = true
		}
	}
	return res, recs
}

// unresolved builds the degraded answer for a type nothing could resolve.
func unresolved(t model.UtilityType, reason string) *model.ResolvedResult {
	return &model.ResolvedResult{
		UtilityType:     t,
		ConfidenceScore: 0,
		ConfidenceLevel: model.LevelNone,
		SelectionReason: reason,
		NeedsReview:     true,
	}
}

// disagreeing lists sources whose best answer lost to the winner's group.
func disagreeing(ordered []model.Candidate) []string {
	if len(ordered) < 2 {
		return nil
	}
	winnerSources := make(map[string]bool, len(ordered[0].AgreeingSources))
	for _, s := range ordered[0].AgreeingSources {
		winnerSources[s] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, c := range ordered[1:] {
		for _, s := range c.AgreeingSources {
			if !winnerSources[s] && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func displayOf(c model.Candidate) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.RawName
}
