// Package ocr implements the jersey-number OCR ancillary (spec §4.7): a
// provider abstraction over an external vision backend plus the
// per-track sliding-window vote consensus the Matcher reads for its
// jersey-number boost.
//
// Grounded on the teacher's internal/clients.MageAgentClient: "one
// external vision backend reached over HTTP" is generalised here to a
// Provider interface with a NoneProvider default, matching spec.md §9's
// guidance that optional multi-backend features sit behind an
// interface. No concrete OCR engine is bundled; this package only
// defines the contract and the voting logic around it.
package ocr

import (
	"context"
	"regexp"
	"strconv"
)

// SampleInterval is the K in "every Kth frame per track" (spec §4.7:
// "K ≈ 5").
const SampleInterval = 5

// VoteWindow caps how many recent OCR readings feed a track's consensus;
// older votes are dropped once the window fills.
const VoteWindow = 15

// Reading is one decoded jersey-number observation from a Provider.
type Reading struct {
	Digits     string
	Confidence float64
}

// Provider abstracts an external jersey-number OCR backend. Implementations
// return an error only for transport/backend failures; a crop that simply
// doesn't contain a readable number should return ErrNoReading, which
// Decode treats as routine, not exceptional (spec §4.7: "failure is
// common and not an error").
type Provider interface {
	Read(ctx context.Context, jerseyCropJPEG []byte) (Reading, error)
}

// NoneProvider is the zero-configuration default: it never produces a
// reading. Selected when no OCR backend is configured.
type NoneProvider struct{}

func (NoneProvider) Read(ctx context.Context, jerseyCropJPEG []byte) (Reading, error) {
	return Reading{}, ErrNoReading
}

// noReadingError is a sentinel distinguishing "nothing legible here"
// from a genuine backend failure.
type noReadingError struct{}

func (noReadingError) Error() string { return "ocr: no reading" }

// ErrNoReading is returned by a Provider when a crop yields no
// confident, well-formed jersey number.
var ErrNoReading error = noReadingError{}

var digitsPattern = regexp.MustCompile(`^[0-9]{1,2}$`)

// ConfidenceFloor is the minimum provider confidence for a reading to be
// accepted as a vote (spec §4.7: "confidence exceeds a threshold").
const ConfidenceFloor = 0.5

// Validate reports whether a raw reading is a well-formed jersey number
// in [1, 99] with confidence above ConfidenceFloor (spec §4.7).
func Validate(r Reading) bool {
	if r.Confidence <= ConfidenceFloor {
		return false
	}
	if !digitsPattern.MatchString(r.Digits) {
		return false
	}
	n, err := strconv.Atoi(r.Digits)
	if err != nil || n < 1 || n > 99 {
		return false
	}
	return true
}

// ShouldSample reports whether frameIndex is a sampling frame for a track
// whose ring buffer position is tracked by frame index modulo
// SampleInterval (spec §4.7: "every Kth frame per track").
func ShouldSample(frameIndex uint64) bool {
	return frameIndex%SampleInterval == 0
}
