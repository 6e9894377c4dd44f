package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/minsql/minsql/encoding"
)

// JSONEncoder renders events as JSON envelopes
type JSONEncoder struct{}

func (JSONEncoder) Encode(event ChangeEvent) ([]byte, error) {
	return json.Marshal(event)
}

// MsgpackEncoder renders events in the wire msgpack format
type MsgpackEncoder struct{}

func (MsgpackEncoder) Encode(event ChangeEvent) ([]byte, error) {
	return encoding.Marshal(&event)
}

// NewEncoder returns the encoder for a configured format name
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "", "json":
		return JSONEncoder{}, nil
	case "msgpack":
		return MsgpackEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown sink format: %s", format)
}
