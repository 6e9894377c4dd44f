package sharding

import (
	"github.com/minsql/minsql/lang"
)

// Router decides which shards a node serves. A single node owns every
// shard; the placement map is the seam where multi-node ownership plugs
// in without touching callers.
type Router struct {
	keyspace *Keyspace
	nodeID   uint64
	owners   map[uint64]uint64 // shard -> node
}

// NewRouter creates a router that assigns every shard to nodeID
func NewRouter(keyspace *Keyspace, nodeID uint64) *Router {
	owners := make(map[uint64]uint64, keyspace.NumShards())
	for s := uint64(0); s < uint64(keyspace.NumShards()); s++ {
		owners[s] = nodeID
	}
	return &Router{keyspace: keyspace, nodeID: nodeID, owners: owners}
}

// Keyspace returns the underlying keyspace
func (r *Router) Keyspace() *Keyspace {
	return r.keyspace
}

// Owner returns the node that owns a shard
func (r *Router) Owner(shard uint64) uint64 {
	return r.owners[shard]
}

// IsLocal reports whether this node serves the given shard
func (r *Router) IsLocal(shard uint64) bool {
	return r.owners[shard] == r.nodeID
}

// LocalShards lists the shards this node serves
func (r *Router) LocalShards() []uint64 {
	var shards []uint64
	for s := uint64(0); s < uint64(r.keyspace.NumShards()); s++ {
		if r.IsLocal(s) {
			shards = append(shards, s)
		}
	}
	return shards
}

// RouteKey maps a raw key to its shard
func (r *Router) RouteKey(key []byte) uint64 {
	return r.keyspace.Shard(key)
}

// Route returns the shards a filtered read must touch. A filter that
// pins the routing key column to a constant narrows the read to one
// shard; anything else fans out to every shard.
func (r *Router) Route(keyColumn string, filter lang.FilterIntent) []uint64 {
	if key, ok := routableKey(keyColumn, filter); ok {
		return []uint64{r.RouteKey(key)}
	}
	shards := make([]uint64, r.keyspace.NumShards())
	for s := range shards {
		shards[s] = uint64(s)
	}
	return shards
}

// routableKey finds an equality conjunct binding the key column to a
// constant. Only top-level conjunctions narrow the route; a disjunction
// may match rows on any shard.
func routableKey(keyColumn string, filter lang.FilterIntent) ([]byte, bool) {
	switch f := filter.(type) {
	case *lang.FilterComparison:
		if f.Op != lang.CmpEq {
			return nil, false
		}
		if refersTo(f.Left, keyColumn) {
			if c, ok := f.Right.(*lang.ConstantIntent); ok {
				return []byte(c.Value.String()), true
			}
		}
		if refersTo(f.Right, keyColumn) {
			if c, ok := f.Left.(*lang.ConstantIntent); ok {
				return []byte(c.Value.String()), true
			}
		}
	case *lang.FilterLogical:
		if f.Op != lang.LogicalAnd {
			return nil, false
		}
		for _, op := range f.Operands {
			if key, ok := routableKey(keyColumn, op); ok {
				return key, true
			}
		}
	}
	return nil, false
}

func refersTo(expr lang.ExpressionIntent, column string) bool {
	switch e := expr.(type) {
	case *lang.ColumnIntent:
		return e.Name == column
	case *lang.QualifiedColumnIntent:
		return e.Name == column
	}
	return false
}
