package gallery

import (
	"sort"

	"github.com/fieldlens/reidcore/internal/model"
)

// regionWeight is the per-region query weight (spec §4.6: "body 40%,
// jersey 30%, foot 15%, general 15%"). Missing regions redistribute their
// weight proportionally across whatever regions remain.
var regionWeight = map[model.FeatureRegion]float64{
	model.RegionBody:    0.40,
	model.RegionJersey:  0.30,
	model.RegionFoot:    0.15,
	model.RegionGeneral: 0.15,
}

// Candidate is one query result: a player id and its blended similarity.
type Candidate struct {
	PlayerID   string
	Similarity float64
}

// QueryContext carries the detection-side signal the adaptive threshold
// (Matcher step 6) needs but Query itself does not consume directly.
type QueryContext struct {
	QualityScore float64
}

// Query scores every profile not in exclude against features, returning
// the top 5 candidates above floor in descending similarity order (spec
// §4.6).
func (g *Gallery) Query(features map[model.FeatureRegion][]float32, exclude map[string]bool, floor float64) []Candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var candidates []Candidate
	for playerID, profile := range g.players {
		if exclude[playerID] {
			continue
		}
		sim, ok := scoreProfile(features, profile)
		if !ok || sim < floor {
			continue
		}
		candidates = append(candidates, Candidate{PlayerID: playerID, Similarity: sim})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	return candidates
}

// scoreProfile blends per-region similarity into the final query score
// (spec §4.6): each present region's similarity is the average of its
// cosine-to-mean and cosine-to-best-exemplar, regions are combined as a
// weight-redistributed mean, and the final score additionally rewards a
// single very strong region via a 0.7/0.3 mean/max blend.
func scoreProfile(features map[model.FeatureRegion][]float32, profile *model.PlayerProfile) (float64, bool) {
	var weightedSum, weightTotal, maxSim float64
	present := 0

	for region, vec := range features {
		bank := profile.Banks[region]
		if bank == nil || len(bank.Mean) == 0 {
			continue
		}
		simMean := cosine(vec, bank.Mean)
		simExemplar := bestExemplarSim(vec, bank.Exemplars)
		regionSim := 0.5*simMean + 0.5*simExemplar

		w := regionWeight[region]
		weightedSum += w * regionSim
		weightTotal += w
		if regionSim > maxSim {
			maxSim = regionSim
		}
		present++
	}

	if present == 0 || weightTotal == 0 {
		return 0, false
	}

	weightedMean := weightedSum / weightTotal
	final := 0.7*weightedMean + 0.3*maxSim
	if present < 2 {
		final = min(final, 0.6)
	}
	return final, true
}

// ScoreOne scores a single known player against features, bypassing the
// exclusion set, floor, and top-K cap. Used by the Matcher's Soft/Decay
// protection check (spec §4.5 step 5), which needs the protected
// player's similarity even when that player would not otherwise surface
// in the top-5 query.
func (g *Gallery) ScoreOne(features map[model.FeatureRegion][]float32, playerID string) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	profile, ok := g.players[playerID]
	if !ok {
		return 0, false
	}
	return scoreProfile(features, profile)
}

func bestExemplarSim(vec []float32, exemplars []model.Exemplar) float64 {
	best := 0.0
	for _, ex := range exemplars {
		if s := cosine(vec, ex.Vector); s > best {
			best = s
		}
	}
	return best
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
