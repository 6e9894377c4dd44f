package sink

import (
	"github.com/rs/zerolog/log"

	"github.com/minsql/minsql/cfg"
	"github.com/minsql/minsql/publisher"
)

func init() {
	publisher.RegisterSink("log", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return &LogSink{name: config.Name}, nil
	})
}

// LogSink writes change events to the process log. Useful for local
// development and for verifying sink plumbing without a broker.
type LogSink struct {
	name string
}

// Publish logs the message
func (s *LogSink) Publish(topic, key string, value []byte) error {
	log.Info().
		Str("sink", s.name).
		Str("topic", topic).
		Str("key", key).
		Int("bytes", len(value)).
		RawJSON("event", jsonOrNull(value)).
		Msg("Change event")
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error {
	return nil
}

func jsonOrNull(value []byte) []byte {
	if len(value) == 0 || value[0] != '{' {
		return []byte("null")
	}
	return value
}
