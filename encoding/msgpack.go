// Package encoding provides centralized serialization/deserialization for
// MinSQL. ALL msgpack operations MUST go through this package to ensure
// consistent behavior.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Type Preservation: When decoding into interface{}, msgpack strings decode
// as Go strings (not []byte). Log entries and change events carry string
// row payloads, and replay compares them byte for byte.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings are preserved as Go strings (not []byte).
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	// UseLooseInterfaceDecoding converts []byte to string when decoding into
	// interface{}. Log entries carry canonical JSON row payloads and replay
	// compares them byte for byte, so they must come back as strings.
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
