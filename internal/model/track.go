package model

// TrackState is the lifecycle state of a Track (spec §3). Exactly one
// state is active at a time.
type TrackState string

const (
	StateTentative TrackState = "tentative"
	StateConfirmed TrackState = "confirmed"
	StateLost      TrackState = "lost"
	StateDead      TrackState = "dead"
)

// KalmanState is the position+velocity state carried by a Track's filter,
// exposed here (rather than buried in internal/kalman) so that Tracks can
// be inspected/serialised without importing the filter package.
type KalmanState struct {
	CenterX, CenterY float64
	Width, Height    float64
	VelX, VelY       float64
	VelW, VelH       float64
}

// BBox reconstructs the box implied by the current state.
func (k KalmanState) BBox() BBox {
	return BBox{
		X1: k.CenterX - k.Width/2,
		Y1: k.CenterY - k.Height/2,
		X2: k.CenterX + k.Width/2,
		Y2: k.CenterY + k.Height/2,
	}
}

// JerseyVote is a single OCR reading contributing to a track's jersey
// number consensus (spec §4.7).
type JerseyVote struct {
	FrameIndex uint64
	Digits     string
	Confidence float64
}

// Track is a persistent per-video identity for a sequence of detections
// believed to be the same physical object (spec §3).
type Track struct {
	TrackID   uint64
	State     TrackState
	FirstSeenFrame uint64
	LastSeenFrame  uint64

	// RingBuffer holds the most recent detections (capacity >= 50, spec §3).
	RingBuffer []Detection

	Kalman KalmanState

	// AssignedPlayerID is empty when unassigned.
	AssignedPlayerID string

	// ConfidenceHistory is the per-frame gallery similarity to the
	// assigned player, most recent last.
	ConfidenceHistory []float64

	JerseyVotes []JerseyVote

	// ConsecutiveHits/Misses drive the Tentative->Confirmed and
	// Confirmed->Lost->Dead transitions.
	ConsecutiveHits   int
	ConsecutiveMisses int
	FramesLost        int

	// Locked is set by an operator LockAssignment correction; locked
	// tracks are not touched by automated matching for the rest of the
	// track's life. No correction clears it: a later SetPlayer or
	// Unassign changes AssignedPlayerID but leaves the track locked.
	Locked bool

	// EMABBox is the smoothed box used for output only; RingBuffer keeps
	// the original observed boxes for feature extraction (spec §4.2 step 4).
	EMABBox BBox
}

// RingBufferCap is the minimum ring buffer capacity spec §3 requires.
const RingBufferCap = 50

// PushDetection appends a detection to the ring buffer, evicting the
// oldest entry once the buffer is full.
func (t *Track) PushDetection(d Detection) {
	t.RingBuffer = append(t.RingBuffer, d)
	if len(t.RingBuffer) > RingBufferCap {
		t.RingBuffer = t.RingBuffer[len(t.RingBuffer)-RingBufferCap:]
	}
}

// LastDetection returns the most recently pushed detection, or nil if the
// ring buffer is empty.
func (t *Track) LastDetection() *Detection {
	if len(t.RingBuffer) == 0 {
		return nil
	}
	return &t.RingBuffer[len(t.RingBuffer)-1]
}

// RecentJerseyConsensus returns the mode jersey-number reading over the
// vote window along with its share, or ("", 0) if there are fewer than 3
// votes (spec §4.7: "mode with >=60% share over >=3 votes").
func (t *Track) RecentJerseyConsensus() (string, float64) {
	if len(t.JerseyVotes) < 3 {
		return "", 0
	}
	counts := make(map[string]int)
	for _, v := range t.JerseyVotes {
		counts[v.Digits]++
	}
	var best string
	var bestCount int
	for digits, c := range counts {
		if c > bestCount {
			bestCount = c
			best = digits
		}
	}
	share := float64(bestCount) / float64(len(t.JerseyVotes))
	if share < 0.6 {
		return "", 0
	}
	return best, share
}

// AverageConfidence returns the mean of the last n confidence-history
// entries (n capped to the slice length). Used by the Protection Engine's
// auto-protection rule.
func (t *Track) AverageConfidence(n int) float64 {
	if len(t.ConfidenceHistory) == 0 {
		return 0
	}
	if n > len(t.ConfidenceHistory) {
		n = len(t.ConfidenceHistory)
	}
	tail := t.ConfidenceHistory[len(t.ConfidenceHistory)-n:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(n)
}
