// Package port defines the narrow contract argon's core consumes from its
// environment (spec.md §6, "Port contract"). On real hardware this would be
// the CPU/architecture layer: context switch, tick timer driver, atomic
// ops, interrupt enable/disable. Hosted on the Go runtime, the equivalent
// concerns are a monotonic clock, a way to arm the next wakeup, a way to
// nudge the scheduler goroutine, an interrupt-context test, and a fatal
// halt hook — goroutine parking itself and atomic ops are supplied directly
// by the standard library inside the core and need no port indirection.
package port

import "time"

// Port is implemented by whatever environment hosts the kernel. The default
// implementation (New) drives ticks from a time.Timer and treats "interrupt
// context" as a process-wide marker set by SimulateInterrupt rather than a
// real exception level, since a hosted Go process has no interrupt levels
// of its own.
type Port interface {
	// Now returns a monotonically increasing duration, analogous to
	// port_get_timer_elapsed_us.
	Now() time.Duration

	// ArmTick programs the next tick wakeup d in the future, or disables
	// the tick source entirely when d is zero (spec.md's tickless idle,
	// port_set_timer_delay(enable, micros)). Called by the scheduler after
	// every reschedule with the freshly computed nextWakeup.
	ArmTick(d time.Duration)

	// RequestService pends the scheduler's service-call exception
	// (port_service_call). Must be safe to call from any goroutine,
	// including ones marked as interrupt context.
	RequestService()

	// InInterrupt reports whether the calling goroutine is currently
	// executing in simulated interrupt context (port_get_irq_state).
	InInterrupt() bool

	// Halt reports a structural invariant violation (stack overflow,
	// deferred-queue overflow, corrupted list) that the core cannot
	// recover from. Implementations should never return.
	Halt(reason string)
}
