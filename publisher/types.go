// Package publisher streams committed row changes to external sinks.
// Changes enter through the engine's change hook, buffer in an in-memory
// change log, and per-sink workers deliver them at least once.
package publisher

// Operation types for change events
const (
	OpInsert uint8 = 0
	OpUpdate uint8 = 1
	OpDelete uint8 = 2
)

// OperationName maps an operation code to its wire name
func OperationName(op uint8) string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// ChangeEvent is a single committed row change. Before and After hold
// the canonical JSON row payloads; either may be empty depending on the
// operation.
type ChangeEvent struct {
	Seq       uint64 `msgpack:"seq" json:"seq"`
	Xid       uint64 `msgpack:"xid" json:"xid"`
	Table     string `msgpack:"tbl" json:"table"`
	Operation uint8  `msgpack:"op" json:"op"`
	Shard     uint64 `msgpack:"shard" json:"shard"`
	RowID     uint64 `msgpack:"row" json:"row_id"`
	Before    string `msgpack:"before" json:"before,omitempty"`
	After     string `msgpack:"after" json:"after,omitempty"`
	Timestamp int64  `msgpack:"ts" json:"ts"`
	NodeID    uint64 `msgpack:"node" json:"node_id"`
}

// Sink is a destination for change events
type Sink interface {
	// Publish sends one message. A nil value is a tombstone.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter decides whether a change event should be published
type Filter interface {
	Match(table string) bool
}

// Encoder serializes change events for a sink
type Encoder interface {
	Encode(event ChangeEvent) ([]byte, error)
}
