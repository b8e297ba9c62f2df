package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Property values carry custom JSON marshalers, so JSON round-trips every
// record type the store persists. Implement Codec to plug in a different
// encoding; persisted files record the codec name in their header and are
// reopened by resolving it through ByName.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for new snapshots and log segments.
var Default Codec = JSON{}
