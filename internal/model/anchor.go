package model

// Anchor is an operator-supplied ground-truth tag for a player at a frame
// in a specific video (spec §3). Anchors are never modified by the engine.
type Anchor struct {
	VideoID      string   `json:"-"`
	FrameIndex   uint64   `json:"-"`
	PlayerID     string   `json:"playerId"`
	BBox         BBox     `json:"bbox"`
	TrackID      *uint64  `json:"trackId,omitempty"`
	JerseyNumber string   `json:"jerseyNumber,omitempty"`
	TeamTag      string   `json:"team,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// AnchorRecord is the on-disk schema for one entry in an anchor tag file
// (spec §6). PlayerName becomes Anchor.PlayerID verbatim; no roster
// lookup maps names to other identifiers.
type AnchorRecord struct {
	PlayerName   string   `json:"player_name"`
	BBox         [4]int   `json:"bbox"`
	Confidence   float64  `json:"confidence"`
	TrackID      *int64   `json:"track_id,omitempty"`
	JerseyNumber *string  `json:"jersey_number,omitempty"`
	Team         *string  `json:"team,omitempty"`
}
