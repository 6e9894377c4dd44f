package exec

import (
	"fmt"
	"time"

	"github.com/minsql/minsql/telemetry"
)

// sandboxCheckInterval is how many tuples pass between wall clock checks.
// The memory counter is exact; the wall check is amortized.
const sandboxCheckInterval = 1024

// Sandbox bounds one query's resource usage. Operators call Tick per
// tuple and TrackMemory at materialization points.
type Sandbox struct {
	deadline  time.Time
	maxMemory uint64

	memUsed uint64
	tuples  uint64
}

// NewSandbox creates a sandbox with the given limits
func NewSandbox(maxWall time.Duration, maxMemoryBytes uint64) *Sandbox {
	return &Sandbox{
		deadline:  time.Now().Add(maxWall),
		maxMemory: maxMemoryBytes,
	}
}

// Tick accounts one tuple and enforces the wall clock limit every
// sandboxCheckInterval tuples
func (s *Sandbox) Tick() error {
	s.tuples++
	if s.tuples%sandboxCheckInterval != 0 {
		return nil
	}
	if time.Now().After(s.deadline) {
		telemetry.SandboxTripsTotal.With("wall").Inc()
		return &ExecError{Kind: SandboxExceeded, Message: "query exceeded wall clock limit"}
	}
	return nil
}

// TrackMemory accounts bytes held by a materializing operator
func (s *Sandbox) TrackMemory(bytes uint64) error {
	s.memUsed += bytes
	if s.memUsed > s.maxMemory {
		telemetry.SandboxTripsTotal.With("memory").Inc()
		return &ExecError{
			Kind:    SandboxExceeded,
			Message: fmt.Sprintf("query exceeded memory limit (%d bytes used)", s.memUsed),
		}
	}
	return nil
}

// ReleaseMemory returns bytes to the budget when an operator frees its
// materialized state
func (s *Sandbox) ReleaseMemory(bytes uint64) {
	if bytes > s.memUsed {
		s.memUsed = 0
		return
	}
	s.memUsed -= bytes
}

// MemoryUsed returns the currently accounted bytes
func (s *Sandbox) MemoryUsed() uint64 {
	return s.memUsed
}
