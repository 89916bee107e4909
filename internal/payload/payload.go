// Package payload provides sample payload codecs. The codec is an external
// collaborator from the registry's point of view: the registry hands it the
// object to persist and never inspects the bytes it produces.
package payload

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Raw passes []byte payloads through untouched. Useful for callers that
// already hold serialized bytes (the CLI reads payloads from files).
type Raw struct{}

// Serialize returns v verbatim; v must be []byte.
func (Raw) Serialize(v any) ([]byte, error) {
	data, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec requires []byte, got %T", v)
	}
	return data, nil
}

// Deserialize returns the stored bytes verbatim.
func (Raw) Deserialize(data []byte) (any, error) {
	return data, nil
}

// Gob serializes arbitrary object graphs with encoding/gob. Concrete types
// crossing the any boundary must be registered with Register first, on both
// the saving and the loading side.
type Gob struct{}

// Register makes a concrete type known to the gob codec.
func Register(value any) {
	gob.Register(value)
}

// Serialize gob-encodes v.
func (Gob) Serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize gob-decodes data into the registered concrete type.
func (Gob) Deserialize(data []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return v, nil
}
