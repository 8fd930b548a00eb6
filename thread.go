package argon

import (
	"time"
	"unsafe"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// ThreadState mirrors spec.md's ar_thread_state enum.
type ThreadState int

const (
	ThreadUnknown ThreadState = iota
	ThreadSuspended
	ThreadReady
	ThreadRunning
	ThreadBlocked
	ThreadSleeping
	ThreadDone
)

func (s ThreadState) String() string {
	switch s {
	case ThreadSuspended:
		return "suspended"
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadBlocked:
		return "blocked"
	case ThreadSleeping:
		return "sleeping"
	case ThreadDone:
		return "done"
	default:
		return "unknown"
	}
}

// Entry is a thread's body. It receives the parameter passed to
// ThreadCreate. Returning ends the thread (transition to Done).
type Entry func(param any)

// Thread is a schedulable unit of execution (spec.md §3, "Thread"). Unlike
// the other primitives, which are initialized in storage the caller passes
// in, a Thread is allocated by ThreadCreate, which returns a pointer to it;
// the caller does not supply a Thread value.
//
// On bare metal a Thread owns a stack that the port synthesizes an initial
// CPU frame into. Hosted on Go, the "prepared context" is a parked
// goroutine: ThreadCreate allocates no goroutine until the thread first
// becomes Ready, at which point its body runs as `go t.run()`, immediately
// parking until the scheduler actually selects it — see DESIGN.md.
type Thread struct {
	kernel   *Kernel
	id       uint64
	name     string
	priority Priority

	state ThreadState

	// schedNode carries Thread membership on exactly one of the kernel's
	// ready / suspended / sleeping lists at a time (spec.md §3).
	schedNode dlist.Node[Thread]
	// blockedNode carries Thread membership on a primitive's wait list,
	// simultaneously with schedNode being on the sleeping list when a
	// finite timeout was given (invariant 4).
	blockedNode dlist.Node[Thread]
	waitList    *dlist.List[Thread]

	wakeupTick    int64
	unblockStatus Status

	// chanData is the transient rendezvous buffer pointer a Channel
	// party stashes here so the other party can copy directly into/out
	// of it (spec.md §4.7); mirrors the original's void* channel data
	// pointer.
	chanData unsafe.Pointer

	runLoop *RunLoop

	entry Entry
	param any

	parker  *parker
	started bool

	announcedStackHint int

	runAccum    time.Duration
	lastRunMark time.Duration
	windowStart time.Duration
}

// ThreadReport is a diagnostic snapshot of a thread, supplementing the
// original's stack-usage report with what a hosted goroutine can actually
// observe (SPEC_FULL.md §9).
type ThreadReport struct {
	Name          string
	State         ThreadState
	Priority      Priority
	Load          float64
	UnblockStatus Status
}

// ThreadCreate allocates a new thread against kernel k. The thread begins
// Suspended unless startImmediately is set (spec.md §4.3).
//
// stackHint is a diagnostic-only announced size in bytes; Go goroutine
// stacks grow dynamically and are never validated against it except the
// degenerate case of zero, which is rejected as StatusStackSizeTooSmall for
// API-shape parity with the original's real stack-size check.
func ThreadCreate(k *Kernel, name string, entry Entry, param any, stackHint int, priority Priority, startImmediately bool) (*Thread, Status) {
	if k.port.InInterrupt() {
		return nil, StatusNotFromInterrupt
	}
	if entry == nil {
		return nil, StatusInvalidParameter
	}
	if priority < MinPriority {
		return nil, StatusInvalidPriority
	}
	if stackHint == 0 {
		return nil, StatusStackSizeTooSmall
	}

	t := &Thread{
		kernel:             k,
		id:                 k.newThreadID(),
		name:               name,
		priority:           priority,
		state:              ThreadSuspended,
		entry:              entry,
		param:              param,
		parker:             newParker(),
		announcedStackHint: stackHint,
	}
	t.schedNode.Bind(t)
	t.blockedNode.Bind(t)

	k.lock()
	k.suspended.Insert(&t.schedNode)
	k.unlock()

	if startImmediately {
		t.Resume()
	}
	return t, StatusSuccess
}

// newIdleThread creates the kernel's built-in idle thread (priority 0). It
// is inserted directly onto the ready list and never leaves it — see
// pickNextLocked's "ready list always contains the running thread, and the
// idle thread never leaves it" invariant.
func (k *Kernel) newIdleThread() *Thread {
	t := &Thread{
		kernel:   k,
		id:       k.newThreadID(),
		name:     "idle",
		priority: PriorityIdle,
		state:    ThreadReady,
		parker:   newParker(),
	}
	t.schedNode.Bind(t)
	t.blockedNode.Bind(t)
	t.entry = func(any) {
		for {
			t.kernel.idleCheckpoint()
		}
	}
	k.ready.Insert(&t.schedNode)
	t.ensureStarted()
	return t
}

// ensureStarted launches the backing goroutine the first time a thread
// becomes eligible to run.
func (t *Thread) ensureStarted() {
	if t.started {
		return
	}
	t.started = true
	go t.run()
}

func (t *Thread) run() {
	t.parker.park()
	t.markRunStartLocked0()
	if t.entry != nil {
		t.entry(t.param)
	}
	t.finish()
}

// markRunStartLocked0 is called once, outside the kernel lock, right as a
// thread's goroutine begins executing for the very first time.
func (t *Thread) markRunStartLocked0() {
	k := t.kernel
	k.lock()
	t.lastRunMark = k.port.Now()
	k.unlock()
}

// finish implements spec.md §4.3's "entry returns -> Done" transition.
func (t *Thread) finish() {
	k := t.kernel
	k.lock()
	defer k.unlock()
	k.accumulateRunTimeLocked(t)
	k.leaveReadyLocked(t)
	t.state = ThreadDone
	k.requestReschedule()
	k.scheduleLocked()
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// ID returns the thread's unique, monotonically increasing id.
func (t *Thread) ID() uint64 { return t.id }

// GetState returns the thread's current state.
func (t *Thread) GetState() ThreadState {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return t.state
}

// GetPriority returns the thread's current (possibly priority-inheritance
// boosted) priority.
func (t *Thread) GetPriority() Priority {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return t.priority
}

// SetPriority changes a thread's priority, reordering the ready list and
// triggering a reschedule (spec.md §4.3, "Priority change").
func (t *Thread) SetPriority(newPriority Priority) Status {
	if newPriority < MinPriority {
		return StatusInvalidPriority
	}
	k := t.kernel
	k.lock()
	defer k.unlock()

	t.priority = newPriority
	if t.state == ThreadReady || t.state == ThreadRunning {
		k.ready.Reorder(&t.schedNode)
	} else if t.waitList != nil {
		k.reorderWaitListLocked(t)
	}
	k.recomputeRoundRobinLocked()
	k.requestReschedule()
	return StatusSuccess
}

// Resume implements spec.md §4.3's Suspended->Ready and Sleeping->Ready
// ("early wake") transitions.
func (t *Thread) Resume() Status {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return k.resumeLocked(t)
}

func (k *Kernel) resumeLocked(t *Thread) Status {
	switch t.state {
	case ThreadSuspended:
		k.suspended.Remove(&t.schedNode)
		t.ensureStarted()
		k.readyLocked(t)
	case ThreadSleeping:
		k.sleeping.Remove(&t.schedNode)
		t.wakeupTick = 0
		k.readyLocked(t)
	case ThreadUnknown:
		return StatusInvalidState
	default:
		// Already ready/running/blocked/done: a no-op, matching the
		// original's tolerant resume-of-an-already-ready-thread behavior.
	}
	return StatusSuccess
}

// ResumeFromISR is the simulated-interrupt-context variant: it always
// defers, regardless of which state the thread is actually in, since a
// deferred action re-enters resumeLocked under the kernel lock at drain
// time rather than acquiring it again (the lock is already held during a
// drain — see deferred.go).
func (t *Thread) ResumeFromISR() Status {
	k := t.kernel
	if !k.deferred.post(func() { k.resumeLocked(t) }) {
		k.halt("deferred queue overflow in Thread.ResumeFromISR")
	}
	return StatusSuccess
}

// Suspend implements spec.md §4.3's Ready/Running/Sleeping -> Suspended
// transitions.
func (t *Thread) Suspend() Status {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return k.suspendLocked(t)
}

func (k *Kernel) suspendLocked(t *Thread) Status {
	switch t.state {
	case ThreadReady, ThreadRunning:
		k.accumulateRunTimeLocked(t)
		k.leaveReadyLocked(t)
		t.state = ThreadSuspended
		k.suspended.Insert(&t.schedNode)
		if t == k.current {
			k.requestReschedule()
			k.scheduleLocked()
		}
	case ThreadSleeping:
		k.sleeping.Remove(&t.schedNode)
		t.wakeupTick = 0
		t.state = ThreadSuspended
		k.suspended.Insert(&t.schedNode)
	case ThreadDone, ThreadSuspended:
		// no-op
	default:
		return StatusInvalidState
	}
	return StatusSuccess
}

// SuspendFromISR defers a suspend request to the next drain.
func (t *Thread) SuspendFromISR() Status {
	k := t.kernel
	if !k.deferred.post(func() { k.suspendLocked(t) }) {
		k.halt("deferred queue overflow in Thread.SuspendFromISR")
	}
	return StatusSuccess
}

// Sleep blocks the calling thread for d, or forever if d == TimeoutNever,
// in which case it behaves like Suspend (spec.md §4.3).
func (t *Thread) Sleep(d time.Duration) {
	k := t.kernel
	k.lock()
	if d == TimeoutNever {
		k.suspendLocked(t)
		k.unlock()
		t.checkpointBlocking()
		return
	}

	k.leaveReadyLocked(t)
	t.state = ThreadSleeping
	t.wakeupTick = k.tickCount + ticksFor(d, k.tick)
	k.sleeping.Insert(&t.schedNode)
	k.requestReschedule()
	k.scheduleLocked()
	k.unlock()
	t.checkpointBlocking()
}

// SleepUntil sleeps the calling thread until absolute tick wakeupTick.
func (t *Thread) SleepUntil(wakeupTick int64) {
	k := t.kernel
	k.lock()
	if wakeupTick <= k.tickCount {
		k.unlock()
		return
	}
	k.leaveReadyLocked(t)
	t.state = ThreadSleeping
	t.wakeupTick = wakeupTick
	k.sleeping.Insert(&t.schedNode)
	k.requestReschedule()
	k.scheduleLocked()
	k.unlock()
	t.checkpointBlocking()
}

// checkpointBlocking parks the calling thread's goroutine until the
// scheduler selects it again. Every blocking kernel operation ends with
// this call — it is the Go-hosted realization of spec.md §5's "suspension
// points".
func (t *Thread) checkpointBlocking() {
	t.parker.park()
}

// Yield is an optional cooperative preemption checkpoint application code
// can call inside CPU-bound loops. Because Go has no ISR that can
// asynchronously steal the CPU from a running goroutine, a thread that
// never blocks and never calls Yield will starve lower-priority threads
// for its entire run — document this requirement alongside any busy loop.
func (t *Thread) Yield() {
	k := t.kernel
	k.lock()
	k.requestReschedule()
	k.scheduleLocked()
	stillCurrent := k.current == t
	k.unlock()
	if !stillCurrent {
		t.checkpointBlocking()
	}
}

// accumulateRunTimeLocked folds the time since the thread last started (or
// last measurement reset) into its running-time accumulator, used by Load
// (SPEC_FULL.md §9).
func (k *Kernel) accumulateRunTimeLocked(t *Thread) {
	if t.state != ThreadRunning {
		return
	}
	now := k.port.Now()
	t.runAccum += now - t.lastRunMark
	t.lastRunMark = now
}

// Load returns the fraction of wall-clock time this thread has spent
// Running since the last call to Load (a rolling window, like the
// original's load accumulators).
func (t *Thread) Load() float64 {
	k := t.kernel
	k.lock()
	defer k.unlock()
	k.accumulateRunTimeLocked(t)
	now := k.port.Now()
	window := now - t.windowStart
	if window <= 0 {
		return 0
	}
	load := float64(t.runAccum) / float64(window)
	t.runAccum = 0
	t.windowStart = now
	return load
}

// Report returns a diagnostic snapshot of the thread (SPEC_FULL.md §9).
func (t *Thread) Report() ThreadReport {
	k := t.kernel
	k.lock()
	state, pri, status := t.state, t.priority, t.unblockStatus
	k.unlock()
	return ThreadReport{
		Name:          t.name,
		State:         state,
		Priority:      pri,
		Load:          t.Load(),
		UnblockStatus: status,
	}
}

// GetCurrentThread returns the thread the kernel currently considers to be
// running. Intended to be called from within a thread's own entry
// function; calling it from an unrelated goroutine (e.g. a simulated ISR)
// returns whichever thread happens to be running, which is rarely useful.
func (k *Kernel) GetCurrentThread() *Thread {
	k.lock()
	defer k.unlock()
	return k.current
}

// GetCurrentThreadLocked is GetCurrentThread for callers that already hold
// the kernel lock (every blocking primitive operation).
func (k *Kernel) GetCurrentThreadLocked() *Thread {
	return k.current
}

// idleCheckpoint is the idle thread's body: park until reselected, parking
// again immediately since idle never blocks on any object.
func (k *Kernel) idleCheckpoint() {
	k.idle.checkpointBlocking()
}

// checkCanaryLocked is the Go port's analogue of the original's stack
// canary check: there is no stack guard word to inspect, so this verifies
// the thread's goroutine actually exists before the scheduler hands it the
// CPU, halting the kernel the same way a real canary violation would
// (spec.md §6's stack overflow / canary corruption discussion).
func (t *Thread) checkCanaryLocked(k *Kernel) {
	if !t.started {
		k.halt("scheduled thread has no backing goroutine: " + t.name)
	}
}

// reorderWaitListLocked re-sorts a blocked thread within whichever wait
// list it is on, used after a priority change that might affect PI
// ordering (mutex wait lists are sorted by priority descending).
func (k *Kernel) reorderWaitListLocked(t *Thread) {
	if t.waitList == nil {
		return
	}
	t.waitList.Reorder(&t.blockedNode)
}
