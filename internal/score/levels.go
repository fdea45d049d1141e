package score

import "github.com/gridseek/utility-cli/internal/model"

// levelCutoffs is the single authoritative score-to-level table. Every
// stage maps through LevelFor; duplicating this table elsewhere caused
// divergent labels in the past.
var levelCutoffs = []struct {
	min   int
	level model.ConfidenceLevel
}{
	{85, model.LevelHigh},
	{65, model.LevelMedium},
	{40, model.LevelLow},
	{0, model.LevelNone},
}

// LevelFor maps a clamped confidence score to its qualitative level.
func LevelFor(score int) model.ConfidenceLevel {
	for _, c := range levelCutoffs {
		if score >= c.min {
			return c.level
		}
	}
	return model.LevelNone
}
