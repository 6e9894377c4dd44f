// Package sharding maps row keys onto a fixed set of shards. Placement
// hashes with BLAKE3 so every node derives identical shard assignments
// without coordination.
package sharding

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"
)

// Keyspace assigns keys to shards
type Keyspace struct {
	numShards uint64
}

// NewKeyspace creates a keyspace with the given shard count
func NewKeyspace(numShards int) *Keyspace {
	if numShards < 1 {
		numShards = 1
	}
	return &Keyspace{numShards: uint64(numShards)}
}

// NumShards returns the shard count
func (k *Keyspace) NumShards() int {
	return int(k.numShards)
}

// Shard hashes a key to its shard. The first eight bytes of the BLAKE3
// digest, read little-endian, reduce modulo the shard count.
func (k *Keyspace) Shard(key []byte) uint64 {
	sum := blake3.Sum256(key)
	return binary.LittleEndian.Uint64(sum[:8]) % k.numShards
}

// ShardForRow returns the shard owning a row
func (k *Keyspace) ShardForRow(table string, rowID uint64) uint64 {
	return k.Shard([]byte(fmt.Sprintf("%s/%016x", table, rowID)))
}
