package planner

// Locality answers placement questions for the planner. Tables are hash
// partitioned over the full shard range, so two tables are colocated
// exactly when their shard sets match.
type Locality struct {
	numShards uint32
}

// NewLocality creates a locality oracle for the given shard count
func NewLocality(numShards uint32) *Locality {
	return &Locality{numShards: numShards}
}

// TableShards returns the shards holding rows of the table. Without
// per-table placement metadata every table spans all shards.
func (l *Locality) TableShards(table string) []uint32 {
	shards := make([]uint32, l.numShards)
	for i := range shards {
		shards[i] = uint32(i)
	}
	return shards
}

// AreColocated reports whether a join between the two tables can run
// without cross-shard row movement
func (l *Locality) AreColocated(a, b string) bool {
	as := l.TableShards(a)
	bs := l.TableShards(b)
	if len(as) != len(bs) {
		return false
	}
	set := make(map[uint32]bool, len(as))
	for _, s := range as {
		set[s] = true
	}
	for _, s := range bs {
		if !set[s] {
			return false
		}
	}
	return true
}
