// Package argon is a hosted, Go-native port of a preemptive,
// priority-based real-time microkernel core: threads with priority
// scheduling and same-priority round robin, counting semaphores,
// recursive mutexes with priority inheritance, bounded blocking queues,
// rendezvous channels, run loops with timers, and an ISR-safe deferred
// action queue for calls made from simulated interrupt context.
//
// On bare metal this kernel's single core guarantees are enforced by
// disabling interrupts; hosted on the Go runtime, where goroutines really
// do run concurrently, the same guarantees are enforced by a real mutex
// (Kernel.lock/unlock) and a goroutine-per-thread model in which a
// thread's backing goroutine is started and resumed only when the
// scheduler selects it. A preempted thread's goroutine is not stopped: it
// keeps running until its next blocking call or Thread.Yield, where it
// parks. See DESIGN.md for the full set of
// deliberate deviations this hosting requires.
package argon
