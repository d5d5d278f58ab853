package model

// OutputRow is one row of the per-frame tracking output stream (spec §6).
// Rows are emitted in frame-monotonic order.
type OutputRow struct {
	FrameIndex         uint64
	TrackID            uint64
	PlayerID           *string
	PlayerName         *string
	BBox               BBox
	DetectorConfidence float64
	GallerySimilarity  *float64
	ProtectionZone     ProtectionZone
	UniformSignature   *UniformSignature
}
