package argon

import (
	"math"
	"time"
)

// Priority is a thread's scheduling priority. Higher values run first.
// 0 is reserved for the idle thread; application threads must use 1..255.
type Priority uint8

const (
	PriorityIdle Priority = 0
	MinPriority  Priority = 1
	MaxPriority  Priority = 255
)

// TimeoutNever stands in for spec.md's "maximum 32-bit value" infinite
// timeout sentinel. Checked by identity everywhere, never by magnitude
// comparison against an elapsed duration.
const TimeoutNever time.Duration = math.MaxInt64

// DefaultTick is the kernel's default scheduling quantum (spec.md §6).
const DefaultTick = time.Millisecond
