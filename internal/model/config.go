package model

// Mode selects between practice (flexible team assignment) and game
// (strict jersey+team uniqueness) matching behaviour (spec §6).
type Mode string

const (
	ModePractice Mode = "practice"
	ModeGame     Mode = "game"
)

// Config is the single struct supplied at engine construction (spec §6).
// Zero-value numeric and string fields are replaced with the values from
// Defaults when the config is resolved by WithDefaults.
type Config struct {
	TrackThresh  float64 // min detection confidence to spawn a new track
	MatchThresh  float64 // cost-matrix threshold for tracker association

	MinTrackLength int // frames required for Tentative -> Confirmed

	LostTrackBufferSeconds float64 // seconds a Lost track may recover before Dead
	ExpansionIOUMargin     float64 // motion-proportional margin for expansion-IoU
	EMAAlpha               float64 // smoothing factor for output bbox

	GallerySimFloor    float64 // hard floor for gallery match acceptance
	AdaptiveThreshold  bool    // if false, never adjust GallerySimFloor

	AnchorHardFrames  uint64 // default 50
	AnchorSoftFrames  uint64 // default 100
	AnchorDecayFrames uint64 // default 150

	Mode Mode

	OCRBackend string // provider name, or "none"

	GalleryPath string
	AnchorDir   string

	PersistenceIntervalDetections int // how often to snapshot the gallery

	// FPS is required to convert LostTrackBufferSeconds into frames
	// (spec §4.2: "a value set from seconds*fps, so behaviour is
	// framerate-invariant").
	FPS float64

	HardNegativePenaltyCap float64 // spec §9 open question, made configurable

	Verbose bool
}

// LostTrackBufferFrames returns the framerate-invariant lost-track buffer
// in frames.
func (c Config) LostTrackBufferFrames() uint64 {
	return uint64(c.LostTrackBufferSeconds * c.FPS)
}

// Defaults returns a Config with every documented default applied.
func Defaults() Config {
	return Config{
		TrackThresh:                   0.5,
		MatchThresh:                   0.7,
		MinTrackLength:                3,
		LostTrackBufferSeconds:        2.0,
		ExpansionIOUMargin:            0.2,
		EMAAlpha:                      0.9,
		GallerySimFloor:               0.5,
		AdaptiveThreshold:             true,
		AnchorHardFrames:              50,
		AnchorSoftFrames:              100,
		AnchorDecayFrames:             150,
		Mode:                          ModePractice,
		OCRBackend:                    "none",
		PersistenceIntervalDetections: 500,
		FPS:                           30,
		HardNegativePenaltyCap:        0.2,
	}
}

// WithDefaults returns a copy of c with every zero-value field replaced by
// its documented default.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.TrackThresh == 0 {
		c.TrackThresh = d.TrackThresh
	}
	if c.MatchThresh == 0 {
		c.MatchThresh = d.MatchThresh
	}
	if c.MinTrackLength == 0 {
		c.MinTrackLength = d.MinTrackLength
	}
	if c.LostTrackBufferSeconds == 0 {
		c.LostTrackBufferSeconds = d.LostTrackBufferSeconds
	}
	if c.ExpansionIOUMargin == 0 {
		c.ExpansionIOUMargin = d.ExpansionIOUMargin
	}
	if c.EMAAlpha == 0 {
		c.EMAAlpha = d.EMAAlpha
	}
	if c.GallerySimFloor == 0 {
		c.GallerySimFloor = d.GallerySimFloor
	}
	if c.AnchorHardFrames == 0 {
		c.AnchorHardFrames = d.AnchorHardFrames
	}
	if c.AnchorSoftFrames == 0 {
		c.AnchorSoftFrames = d.AnchorSoftFrames
	}
	if c.AnchorDecayFrames == 0 {
		c.AnchorDecayFrames = d.AnchorDecayFrames
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.OCRBackend == "" {
		c.OCRBackend = d.OCRBackend
	}
	if c.PersistenceIntervalDetections == 0 {
		c.PersistenceIntervalDetections = d.PersistenceIntervalDetections
	}
	if c.FPS == 0 {
		c.FPS = d.FPS
	}
	if c.HardNegativePenaltyCap == 0 {
		c.HardNegativePenaltyCap = d.HardNegativePenaltyCap
	}
	return c
}
