package sharding

import (
	"testing"

	"github.com/minsql/minsql/common"
	"github.com/minsql/minsql/lang"
)

func eqFilter(column string, v common.Value) lang.FilterIntent {
	return &lang.FilterComparison{
		Op:    lang.CmpEq,
		Left:  &lang.ColumnIntent{Name: column},
		Right: &lang.ConstantIntent{Value: v},
	}
}

func TestRouter_PointFilterRoutesToOneShard(t *testing.T) {
	r := NewRouter(NewKeyspace(16), 1)

	shards := r.Route("id", eqFilter("id", common.Int(7)))
	if len(shards) != 1 {
		t.Fatalf("Point query routed to %d shards, want 1", len(shards))
	}
	if want := r.RouteKey([]byte(common.Int(7).String())); shards[0] != want {
		t.Errorf("Routed to shard %d, want %d", shards[0], want)
	}
}

func TestRouter_PointFilterInsideConjunction(t *testing.T) {
	r := NewRouter(NewKeyspace(16), 1)

	filter := &lang.FilterLogical{
		Op: lang.LogicalAnd,
		Operands: []lang.FilterIntent{
			&lang.FilterComparison{
				Op:    lang.CmpGt,
				Left:  &lang.ColumnIntent{Name: "age"},
				Right: &lang.ConstantIntent{Value: common.Int(30)},
			},
			eqFilter("id", common.Int(7)),
		},
	}
	if shards := r.Route("id", filter); len(shards) != 1 {
		t.Errorf("Conjunction with a key equality routed to %d shards, want 1", len(shards))
	}
}

func TestRouter_RangeFilterFansOut(t *testing.T) {
	r := NewRouter(NewKeyspace(16), 1)

	filter := &lang.FilterComparison{
		Op:    lang.CmpGt,
		Left:  &lang.ColumnIntent{Name: "id"},
		Right: &lang.ConstantIntent{Value: common.Int(7)},
	}
	if shards := r.Route("id", filter); len(shards) != 16 {
		t.Errorf("Range query routed to %d shards, want all 16", len(shards))
	}
}

func TestRouter_DisjunctionFansOut(t *testing.T) {
	r := NewRouter(NewKeyspace(16), 1)

	filter := &lang.FilterLogical{
		Op: lang.LogicalOr,
		Operands: []lang.FilterIntent{
			eqFilter("id", common.Int(1)),
			eqFilter("id", common.Int(2)),
		},
	}
	// Either branch may match rows on a different shard
	if shards := r.Route("id", filter); len(shards) != 16 {
		t.Errorf("Disjunction routed to %d shards, want all 16", len(shards))
	}
}

func TestRouter_NoFilterFansOut(t *testing.T) {
	r := NewRouter(NewKeyspace(8), 1)
	if shards := r.Route("id", nil); len(shards) != 8 {
		t.Errorf("Unfiltered route touched %d shards, want all 8", len(shards))
	}
}

func TestRouter_RouteKeyMatchesKeyspace(t *testing.T) {
	k := NewKeyspace(16)
	r := NewRouter(k, 1)

	key := []byte("users/0000000000000007")
	if r.RouteKey(key) != k.Shard(key) {
		t.Error("RouteKey must agree with the keyspace hash")
	}
}
