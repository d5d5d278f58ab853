package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldlens/reidcore/internal/model"
)

func TestValidate_AcceptsWellFormedReading(t *testing.T) {
	if !Validate(Reading{Digits: "23", Confidence: 0.9}) {
		t.Fatal("expected a two-digit reading above the confidence floor to validate")
	}
	if !Validate(Reading{Digits: "7", Confidence: 0.6}) {
		t.Fatal("expected a single-digit reading to validate")
	}
}

func TestValidate_RejectsOutOfRangeOrLowConfidence(t *testing.T) {
	cases := []Reading{
		{Digits: "00", Confidence: 0.9},
		{Digits: "100", Confidence: 0.9},
		{Digits: "12a", Confidence: 0.9},
		{Digits: "42", Confidence: 0.4},
	}
	for _, c := range cases {
		if Validate(c) {
			t.Fatalf("expected %+v to be rejected", c)
		}
	}
}

func TestShouldSample_FiresEveryKthFrame(t *testing.T) {
	if !ShouldSample(0) || !ShouldSample(5) || !ShouldSample(10) {
		t.Fatal("expected frames 0, 5, 10 to be sample frames")
	}
	if ShouldSample(3) || ShouldSample(7) {
		t.Fatal("expected non-multiples of the sample interval to be skipped")
	}
}

func TestRecordVote_DropsInvalidReadings(t *testing.T) {
	track := &model.Track{}
	RecordVote(track, 0, Reading{Digits: "150", Confidence: 0.9})
	if len(track.JerseyVotes) != 0 {
		t.Fatal("expected invalid reading to be dropped")
	}
}

func TestRecordVote_EvictsOldestBeyondWindow(t *testing.T) {
	track := &model.Track{}
	for i := 0; i < VoteWindow+5; i++ {
		RecordVote(track, uint64(i), Reading{Digits: "9", Confidence: 0.9})
	}
	if len(track.JerseyVotes) != VoteWindow {
		t.Fatalf("expected vote window capped at %d, got %d", VoteWindow, len(track.JerseyVotes))
	}
}

type fakeProvider struct {
	reading Reading
	err     error
}

func (p fakeProvider) Read(ctx context.Context, jerseyCropJPEG []byte) (Reading, error) {
	return p.reading, p.err
}

func TestDecode_SkipsNonSampleFrames(t *testing.T) {
	track := &model.Track{}
	Decode(context.Background(), fakeProvider{reading: Reading{Digits: "10", Confidence: 0.9}}, track, 3, nil)
	if len(track.JerseyVotes) != 0 {
		t.Fatal("expected non-sample frame to be skipped")
	}
}

func TestDecode_RecordsVoteOnSampleFrame(t *testing.T) {
	track := &model.Track{}
	Decode(context.Background(), fakeProvider{reading: Reading{Digits: "10", Confidence: 0.9}}, track, 5, nil)
	if len(track.JerseyVotes) != 1 {
		t.Fatal("expected a vote to be recorded on a sample frame")
	}
}

func TestDecode_ProviderErrorRecordsNothing(t *testing.T) {
	track := &model.Track{}
	Decode(context.Background(), fakeProvider{err: errors.New("backend down")}, track, 5, nil)
	if len(track.JerseyVotes) != 0 {
		t.Fatal("expected provider error to record no vote")
	}
}

func TestNoneProvider_AlwaysReturnsErrNoReading(t *testing.T) {
	_, err := NoneProvider{}.Read(context.Background(), nil)
	if !errors.Is(err, ErrNoReading) {
		t.Fatal("expected NoneProvider to return ErrNoReading")
	}
}
