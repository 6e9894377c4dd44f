package hlc

import (
	"sync"
	"testing"
)

func TestClock_Now(t *testing.T) {
	clock := NewClock(1)

	ts1 := clock.Now()
	if ts1.Physical == 0 {
		t.Error("Physical time should not be zero in realtime mode")
	}
	if ts1.Logical == 0 {
		t.Error("Logical counter should have advanced")
	}

	ts2 := clock.Now()
	if !ts2.After(ts1) {
		t.Errorf("Second timestamp %v should sort after first %v", ts2, ts1)
	}
	if ts2.Logical != ts1.Logical+1 {
		t.Errorf("Expected logical %d, got %d", ts1.Logical+1, ts2.Logical)
	}
}

func TestClock_MonotonicIncrement(t *testing.T) {
	clock := NewClock(1)

	// Generate 100 timestamps rapidly
	timestamps := make([]LogicalTime, 100)
	for i := 0; i < 100; i++ {
		timestamps[i] = clock.Now()
	}

	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			t.Errorf("Timestamp %d not after %d", i, i-1)
		}
	}
}

func TestClock_DeterministicFrozenPhysical(t *testing.T) {
	clock := NewDeterministicClock(1, 42_000_000)

	ts1 := clock.Now()
	ts2 := clock.Now()

	if ts1.Physical != 42_000_000 || ts2.Physical != 42_000_000 {
		t.Errorf("Physical time must stay frozen, got %d and %d", ts1.Physical, ts2.Physical)
	}
	if ts2.Logical != ts1.Logical+1 {
		t.Errorf("Logical must advance under frozen physical, got %d then %d", ts1.Logical, ts2.Logical)
	}
}

func TestClock_FreezeAndThaw(t *testing.T) {
	clock := NewClock(7)
	clock.Freeze(1000)

	if clock.Mode() != Deterministic {
		t.Fatal("Freeze should switch to deterministic mode")
	}

	ts := clock.Now()
	if ts.Physical != 1000 {
		t.Errorf("Expected frozen physical 1000, got %d", ts.Physical)
	}

	clock.SetPhysical(2000)
	ts = clock.Now()
	if ts.Physical != 2000 {
		t.Errorf("Expected physical 2000 after SetPhysical, got %d", ts.Physical)
	}

	clock.Thaw()
	if clock.Mode() != Realtime {
		t.Error("Thaw should return to realtime mode")
	}
	ts = clock.Now()
	if ts.Physical <= 2000 {
		t.Errorf("Realtime physical should exceed frozen value, got %d", ts.Physical)
	}
}

func TestClock_AdvanceBy(t *testing.T) {
	clock := NewDeterministicClock(1, 500)

	ts1 := clock.Now()
	clock.AdvanceBy(10)
	ts2 := clock.Now()

	if ts2.Logical != ts1.Logical+11 {
		t.Errorf("Expected logical %d after AdvanceBy(10), got %d", ts1.Logical+11, ts2.Logical)
	}
}

func TestClock_Observe(t *testing.T) {
	clock := NewDeterministicClock(2, 100)

	remote := LogicalTime{Physical: 900, Logical: 50}
	clock.Observe(remote)

	ts := clock.Now()
	if !ts.After(remote) {
		t.Errorf("Local timestamp %v should sort after observed %v", ts, remote)
	}
}

func TestLogicalTime_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b LogicalTime
		want int
	}{
		{"equal", LogicalTime{1, 1}, LogicalTime{1, 1}, 0},
		{"physical dominates", LogicalTime{2, 0}, LogicalTime{1, 99}, 1},
		{"physical less", LogicalTime{1, 99}, LogicalTime{2, 0}, -1},
		{"logical breaks tie", LogicalTime{5, 2}, LogicalTime{5, 1}, 1},
		{"logical less", LogicalTime{5, 1}, LogicalTime{5, 2}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestClock_ConcurrentNow(t *testing.T) {
	clock := NewDeterministicClock(1, 77)

	const goroutines = 8
	const perGoroutine = 1000

	var wg sync.WaitGroup
	results := make([][]LogicalTime, goroutines)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			out := make([]LogicalTime, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				out[i] = clock.Now()
			}
			results[idx] = out
		}(g)
	}
	wg.Wait()

	// Every logical value must be unique across goroutines
	seen := make(map[uint64]bool, goroutines*perGoroutine)
	for _, batch := range results {
		for _, ts := range batch {
			if seen[ts.Logical] {
				t.Fatalf("Duplicate logical counter value %d", ts.Logical)
			}
			seen[ts.Logical] = true
		}
	}
}

func BenchmarkClock_Now(b *testing.B) {
	clock := NewClock(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Now()
	}
}

func BenchmarkClock_NowDeterministic(b *testing.B) {
	clock := NewDeterministicClock(1, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Now()
	}
}
