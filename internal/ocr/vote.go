package ocr

import (
	"context"

	"github.com/fieldlens/reidcore/internal/model"
)

// RecordVote appends a validated reading to track's sliding jersey-vote
// window, evicting the oldest vote once VoteWindow is exceeded. Invalid
// readings (failing Validate) are silently dropped -- spec §4.7 treats a
// failed read as routine, not an error worth surfacing per-call.
func RecordVote(track *model.Track, frameIndex uint64, reading Reading) {
	if !Validate(reading) {
		return
	}
	track.JerseyVotes = append(track.JerseyVotes, model.JerseyVote{
		FrameIndex: frameIndex,
		Digits:     reading.Digits,
		Confidence: reading.Confidence,
	})
	if len(track.JerseyVotes) > VoteWindow {
		track.JerseyVotes = track.JerseyVotes[len(track.JerseyVotes)-VoteWindow:]
	}
}

// Decode runs provider against a jersey sub-crop and records the result
// into track's vote window if sampling is due. A provider error
// (including ErrNoReading) is treated as "no vote this round" and never
// propagated -- OCR is an ancillary signal, not a pipeline-halting
// dependency.
func Decode(ctx context.Context, provider Provider, track *model.Track, frameIndex uint64, jerseyCropJPEG []byte) {
	if !ShouldSample(frameIndex) {
		return
	}
	reading, err := provider.Read(ctx, jerseyCropJPEG)
	if err != nil {
		return
	}
	RecordVote(track, frameIndex, reading)
}
