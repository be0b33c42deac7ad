// Package json wraps the sonic JSON implementation behind the familiar
// encoding/json surface. Hot paths (SSE chunk parsing, event building) go
// through here so the implementation can be swapped in one place.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// RawMessage is re-exported so callers depending on this facade do not
// need a second json import for deferred decoding.
type RawMessage = stdjson.RawMessage

var api = sonic.ConfigStd

// Marshal encodes v using sonic with encoding/json-compatible settings.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalString encodes v and returns the JSON as a string.
func MarshalString(v any) (string, error) {
	return api.MarshalToString(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
