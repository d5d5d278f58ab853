package model

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// FeatureVector is a persisted feature vector. It marshals to JSON as a
// base64-encoded buffer of little-endian float32 values prefixed by a
// uint32 length (spec §6: "Feature vectors are base64-encoded little-endian
// float32 arrays with their length prefix"). Ephemeral, per-frame feature
// vectors (Detection.Features, query arguments) stay plain []float32 --
// only the Gallery's on-disk PlayerProfile fields use this wire shape.
type FeatureVector []float32

// MarshalJSON encodes the vector as the length-prefixed little-endian
// float32 buffer described above, base64-standard-encoded into a JSON
// string. A nil/empty vector marshals to an empty string rather than
// null, keeping FeatureBank.Mean round-trippable before a profile's first
// update.
func (v FeatureVector) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return json.Marshal("")
	}
	buf := make([]byte, 4+4*len(v))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], math.Float32bits(f))
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(buf))
}

// UnmarshalJSON decodes the wire shape written by MarshalJSON, validating
// the length prefix against the decoded buffer size.
func (v *FeatureVector) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("feature vector: %w", err)
	}
	if s == "" {
		*v = nil
		return nil
	}
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("feature vector: decode base64: %w", err)
	}
	if len(buf) < 4 {
		return fmt.Errorf("feature vector: buffer too short for length prefix (%d bytes)", len(buf))
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)) != 4+4*n {
		return fmt.Errorf("feature vector: length prefix %d disagrees with buffer size %d", n, len(buf)-4)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*i : 8+4*i]))
	}
	*v = out
	return nil
}
