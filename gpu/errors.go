package gpu

import (
	"fmt"
)

// CapacityExceeded reports an emit larger than the remaining slots. It is
// recovered locally (ring eviction or surplus drop) and logged, never
// returned as a fatal error.
type CapacityExceeded struct {
	System    string
	Requested uint32
	Remaining uint32
	Evicted   uint32
}

func (e *CapacityExceeded) Error() string {
	return fmt.Sprintf("system %s: emit of %d exceeds %d remaining slots (%d evicted)",
		e.System, e.Requested, e.Remaining, e.Evicted)
}

// DeviceLost reports a driver or hardware failure. Surfaced to the caller;
// the engine recompiles its pipeline on the next frame.
type DeviceLost struct {
	Cause error
}

func (e *DeviceLost) Error() string {
	return fmt.Sprintf("gpu device lost: %v", e.Cause)
}

func (e *DeviceLost) Unwrap() error { return e.Cause }

// OrderingViolation reports a buffer reuse while work on it is still being
// encoded: a programming fault. Debug builds panic on it; release builds
// log it, serialize the frame and continue.
type OrderingViolation struct {
	System string
	Op     string
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("system %s: dispatch ordering violation in %s", e.System, e.Op)
}
