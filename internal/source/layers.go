package source

import (
	"context"
	"time"

	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/spatial"
)

// LayersSource answers from the preloaded in-process polygon layers. It is
// the primary geometry source: point precision, no network hop.
type LayersSource struct {
	index   *spatial.Index
	tier    float64
	timeout time.Duration
}

// NewLayersSource creates a LayersSource over the given index.
func NewLayersSource(index *spatial.Index, tier float64, timeout time.Duration) *LayersSource {
	return &LayersSource{index: index, tier: tier, timeout: timeout}
}

// Name implements Adapter.
func (s *LayersSource) Name() string { return "layers" }

// SupportedTypes implements Adapter.
func (s *LayersSource) SupportedTypes() []model.UtilityType { return model.AllUtilityTypes() }

// BaseConfidence implements Adapter.
func (s *LayersSource) BaseConfidence() float64 { return s.tier }

// Timeout implements Adapter.
func (s *LayersSource) Timeout() time.Duration { return s.timeout }

// Query implements Adapter. Every containing polygon becomes a candidate;
// the overlap resolver owns the tie-break.
func (s *LayersSource) Query(_ context.Context, geo *model.GeocodedAddress, t model.UtilityType) ([]model.Candidate, error) {
	feats := s.index.Query(t, geo.Longitude, geo.Latitude)
	if len(feats) == 0 {
		return nil, nil
	}

	out := make([]model.Candidate, 0, len(feats))
	for _, f := range feats {
		out = append(out, model.Candidate{
			SourceName:     s.Name(),
			UtilityType:    t,
			RawName:        f.Name,
			BaseConfidence: s.tier,
			Precision:      model.PrecisionPoint,
			AreaKM2:        f.AreaKM2,
			CustomerCount:  f.CustomerCount,
			OperatorType:   f.OperatorType,
			State:          f.State,
			RegulatorID:    f.RegulatorID,
			Attributes:     map[string]string{"feature_id": f.ID},
		})
	}
	return out, nil
}
