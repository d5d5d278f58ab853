package gallery

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlens/reidcore/internal/model"
)

// ExemplarDiversityFloor is the minimum cosine distance (1 - similarity) a
// new exemplar must have from every existing exemplar of the same region
// to be admitted (spec §4.6: "farther than cosine 0.2 from all existing
// exemplars").
const ExemplarDiversityFloor = 0.2

// Update incorporates one detection's features into playerID's profile
// (spec §4.6's update operation): quality-weighted running-mean update,
// exemplar diversity admission/eviction, reference-frame bookkeeping, and
// diversity-score recompute.
func (g *Gallery) Update(playerID string, det model.Detection, videoID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.readOnly {
		return fmt.Errorf("gallery is read-only: cannot update player %s", playerID)
	}

	profile, ok := g.players[playerID]
	if !ok {
		return fmt.Errorf("unknown player %s", playerID)
	}

	// Jersey-number and team-colour ledgers update independently of
	// feature quality weighting (spec §4.5 step 8): a legible OCR read or
	// a team tag is either true or it isn't, regardless of crop quality.
	if det.JerseyNumber != "" {
		profile.JerseyNumber = det.JerseyNumber
	}
	if det.TeamTag != "" {
		profile.TeamTag = det.TeamTag
	}

	w := det.QualityScore * det.DetectorConfidence
	if w <= 0 {
		return nil
	}

	for region, feat := range det.Features {
		updateBank(profile.Banks[region], feat, w)
		if det.UniformSignature != nil {
			variant := profile.VariantFor(*det.UniformSignature)
			updateBank(variant.Banks[region], feat, w)
		}
	}

	ref := model.ReferenceFrame{
		ID:                  uuid.NewString(),
		VideoID:             videoID,
		FrameIndex:          det.FrameIndex,
		BBox:                det.BBox,
		CaptureConfidence:   det.DetectorConfidence,
	}
	if det.UniformSignature != nil {
		ref.UniformSignature = *det.UniformSignature
		variant := profile.VariantFor(*det.UniformSignature)
		variant.ReferenceFrames = append(variant.ReferenceFrames, ref)
		pruneReferenceFrames(&variant.ReferenceFrames, model.MaxReferenceFramesPerVariant)
	} else {
		profile.ReferenceFrames = append(profile.ReferenceFrames, ref)
		pruneReferenceFrames(&profile.ReferenceFrames, model.MaxReferenceFramesPerVariant)
	}

	profile.DiversityScore = diversityScore(profile)
	profile.UpdatedAt = time.Now()
	return nil
}

// updateBank folds one quality-weighted feature vector into a region's
// running mean and exemplar set (spec §4.6).
func updateBank(bank *model.FeatureBank, feat []float32, w float64) {
	if bank == nil || len(feat) == 0 {
		return
	}

	if len(bank.Mean) == 0 {
		bank.Mean = normalize(append([]float32(nil), feat...))
	} else {
		newMean := make([]float32, len(bank.Mean))
		for i := range newMean {
			newMean[i] = float32((float64(bank.Mean[i])*bank.Weight + float64(feat[i])*w) / (bank.Weight + w))
		}
		bank.Mean = normalize(newMean)
	}
	bank.Weight += w

	admitExemplar(bank, model.Exemplar{Vector: append([]float32(nil), feat...), Quality: w, AddedAt: time.Now()})
}

// admitExemplar appends a new exemplar if it is diverse enough from every
// existing exemplar, evicting the most redundant low-quality exemplar if
// the set is already full (spec §4.6).
func admitExemplar(bank *model.FeatureBank, candidate model.Exemplar) {
	for _, ex := range bank.Exemplars {
		if 1-cosine(candidate.Vector, ex.Vector) < ExemplarDiversityFloor {
			return // too similar to an existing exemplar
		}
	}

	bank.Exemplars = append(bank.Exemplars, candidate)
	if len(bank.Exemplars) <= model.MaxExemplarsPerRegion {
		return
	}

	worst := 0
	worstScore := evictionScore(bank.Exemplars, 0)
	for i := 1; i < len(bank.Exemplars); i++ {
		if s := evictionScore(bank.Exemplars, i); s < worstScore {
			worstScore = s
			worst = i
		}
	}
	bank.Exemplars = append(bank.Exemplars[:worst], bank.Exemplars[worst+1:]...)
}

// evictionScore rewards low quality and high redundancy (closeness to the
// nearest other exemplar); the lowest score is evicted first.
func evictionScore(exemplars []model.Exemplar, i int) float64 {
	nearest := 0.0
	for j, ex := range exemplars {
		if j == i {
			continue
		}
		if s := cosine(exemplars[i].Vector, ex.Vector); s > nearest {
			nearest = s
		}
	}
	return exemplars[i].Quality - nearest
}

// pruneReferenceFrames drops the lowest-scoring reference frames once the
// slice exceeds cap, scoring each by 0.7*quality + 0.3*diversity
// contribution (spec §4.6), where diversity contribution favors frames
// that are the only representative of their video_id.
func pruneReferenceFrames(frames *[]model.ReferenceFrame, limit int) {
	if len(*frames) <= limit {
		return
	}

	videoCounts := make(map[string]int)
	for _, f := range *frames {
		videoCounts[f.VideoID]++
	}

	type scored struct {
		frame model.ReferenceFrame
		score float64
	}
	scoredFrames := make([]scored, len(*frames))
	for i, f := range *frames {
		diversity := 1.0 / float64(videoCounts[f.VideoID])
		scoredFrames[i] = scored{frame: f, score: 0.7*f.CaptureConfidence + 0.3*diversity}
	}

	// Keep the cap highest-scoring frames, but never drop the last
	// remaining frame for a given video_id if an alternative exists.
	keep := make([]bool, len(scoredFrames))
	order := argsortDesc(scoredFrames)
	kept := 0
	keptPerVideo := make(map[string]int)
	for _, idx := range order {
		if kept >= limit {
			break
		}
		keep[idx] = true
		keptPerVideo[scoredFrames[idx].frame.VideoID]++
		kept++
	}
	for videoID, total := range videoCounts {
		if keptPerVideo[videoID] == 0 && total > 0 {
			// Force-keep the single highest-scoring frame for this video,
			// evicting the globally weakest kept frame to make room.
			for i, sf := range scoredFrames {
				if sf.frame.VideoID == videoID && !keep[i] {
					weakest := weakestKept(scoredFrames, keep)
					if weakest >= 0 {
						keep[weakest] = false
						keep[i] = true
					}
					break
				}
			}
		}
	}

	out := make([]model.ReferenceFrame, 0, limit)
	for i, sf := range scoredFrames {
		if keep[i] {
			out = append(out, sf.frame)
		}
	}
	*frames = out
}

func argsortDesc(scoredFrames []struct {
	frame model.ReferenceFrame
	score float64
}) []int {
	idx := make([]int, len(scoredFrames))
	for i := range idx {
		idx[i] = i
	}
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && scoredFrames[idx[j]].score > scoredFrames[idx[j-1]].score; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
	return idx
}

func weakestKept(scoredFrames []struct {
	frame model.ReferenceFrame
	score float64
}, keep []bool) int {
	weakest := -1
	var weakestScore float64
	for i, k := range keep {
		if !k {
			continue
		}
		if weakest < 0 || scoredFrames[i].score < weakestScore {
			weakest = i
			weakestScore = scoredFrames[i].score
		}
	}
	return weakest
}

// diversityScore recomputes a profile's spread across videos, frame
// indices, and uniform variants (spec §4.6).
func diversityScore(p *model.PlayerProfile) float64 {
	videoSet := make(map[string]bool)
	for _, f := range p.ReferenceFrames {
		videoSet[f.VideoID] = true
	}
	for _, v := range p.Variants {
		for _, f := range v.ReferenceFrames {
			videoSet[f.VideoID] = true
		}
	}

	total := p.TotalReferenceFrames()
	if total == 0 {
		return 0
	}

	videoSpread := float64(len(videoSet))
	variantSpread := float64(len(p.Variants) + 1) // +1 for the unscoped bucket
	frameSpread := min(1.0, float64(total)/100.0)

	score := (videoSpread*0.4 + variantSpread*0.3 + frameSpread*10*0.3) / 10
	if score > 1 {
		score = 1
	}
	return score
}
