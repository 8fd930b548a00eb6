package argon

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flit/argon-rtos-go/internal/dlist"
	"github.com/flit/argon-rtos-go/port"
	"github.com/rs/zerolog"
)

// Kernel is the process-wide scheduler singleton (spec.md §3, "Kernel
// state"). Callers construct exactly one Kernel, create threads and
// primitives against it, and call Run to start scheduling.
type Kernel struct {
	mu              sync.Mutex
	lockDepth       int32 // atomic, for introspection only
	needsReschedule bool
	needsRoundRobin bool
	isRunning       bool
	runningDeferred bool

	ready     *dlist.List[Thread]
	suspended *dlist.List[Thread]
	sleeping  *dlist.List[Thread]

	current *Thread
	idle    *Thread

	tick            time.Duration
	tickCount       int64
	missedTickCount int64
	nextWakeupTick  int64

	threadIDCounter uint64 // atomic

	deferred *deferredQueue

	port     port.Port
	dport    *defaultPortHandle // non-nil only when using the built-in hosted port
	serviceC chan struct{}
	stopC    chan struct{}
	doneC    chan struct{}

	log zerolog.Logger

	runloopsMu sync.Mutex
	byThread   map[uint64]*RunLoop
}

// defaultPortHandle lets NewKernel select its tick channel without
// importing the concrete hosted port type into every code path.
type defaultPortHandle struct {
	tickChan func() <-chan time.Time
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithPort overrides the default hosted Port, e.g. for tests that want a
// fake clock.
func WithPort(p port.Port) Option {
	return func(k *Kernel) { k.port = p }
}

// WithTick overrides the default 1ms scheduling quantum.
func WithTick(d time.Duration) Option {
	return func(k *Kernel) { k.tick = d }
}

// WithLogger installs the structured logger the kernel writes to when it
// halts (Kernel.halt); the default hosted port also uses it for its Halt
// hook. Nothing else is logged. Silent (zerolog.Nop) by default.
func WithLogger(log zerolog.Logger) Option {
	return func(k *Kernel) { k.log = log }
}

// NewKernel allocates a new kernel. The kernel does not start scheduling
// until Run is called.
func NewKernel(opts ...Option) *Kernel {
	k := &Kernel{
		ready:     dlist.New[Thread](func(a, b *Thread) bool { return a.priority > b.priority }),
		suspended: dlist.New[Thread](nil),
		sleeping:  dlist.New[Thread](func(a, b *Thread) bool { return a.wakeupTick < b.wakeupTick }),
		tick:      DefaultTick,
		serviceC:  make(chan struct{}, 1),
		stopC:     make(chan struct{}),
		doneC:     make(chan struct{}),
		log:       zerolog.Nop(),
		byThread:  make(map[uint64]*RunLoop),
	}
	k.deferred = newDeferredQueue(k, 8)

	for _, opt := range opts {
		opt(k)
	}
	if k.port == nil {
		dp := port.New(k.serviceC, k.log)
		k.port = dp
		if tc, ok := dp.(interface{ TickChannel() <-chan time.Time }); ok {
			k.dport = &defaultPortHandle{tickChan: tc.TickChannel}
		}
	}

	k.idle = k.newIdleThread()
	return k
}

// lock acquires the kernel's mutual-exclusion lock. Every public API method
// that mutates kernel state calls this once at entry and releases via
// defer unlock(). Internal helpers always assume the lock is already held.
// The lock is a plain sync.Mutex, so it does not nest the way spec.md's
// lock count does: it is taken once per public call.
func (k *Kernel) lock() {
	k.mu.Lock()
	atomic.AddInt32(&k.lockDepth, 1)
}

// unlock releases the kernel lock. If a reschedule was requested while
// locked, it pokes the port to request a scheduler service once the lock
// is actually released — spec.md §4.1's kernel lock guard.
func (k *Kernel) unlock() {
	needsKick := k.needsReschedule
	atomic.AddInt32(&k.lockDepth, -1)
	k.mu.Unlock()
	if needsKick && !k.runningDeferred {
		k.port.RequestService()
	}
}

// LockDepth reports the current nesting depth of the kernel critical
// section, for tests asserting invariants hold only when it is zero.
func (k *Kernel) LockDepth() int32 { return atomic.LoadInt32(&k.lockDepth) }

// IsRunning reports whether Run has been called and the kernel is actively
// scheduling.
func (k *Kernel) IsRunning() bool {
	k.lock()
	defer k.unlock()
	return k.isRunning
}

// TickCount returns the number of scheduler ticks elapsed since Run.
func (k *Kernel) TickCount() int64 {
	k.lock()
	defer k.unlock()
	return k.tickCount
}

// MillisecondCount returns TickCount expressed in the kernel's configured
// tick duration, analogous to ar_kernel_get_millisecond_count.
func (k *Kernel) MillisecondCount() int64 {
	return int64(time.Duration(k.TickCount()) * k.tick / time.Millisecond)
}

// Microseconds returns elapsed wall time since the kernel's port epoch,
// independent of the tick quantum.
func (k *Kernel) Microseconds() int64 {
	return k.port.Now().Microseconds()
}

// Run starts the scheduler. It blocks until Stop is called, running on the
// calling goroutine — callers typically invoke this from main(). This is
// the Go-hosted analogue of the bare-metal main loop that enables
// interrupts and never returns.
func (k *Kernel) Run() {
	k.lock()
	k.isRunning = true
	k.needsReschedule = true
	k.unlock()

	k.yieldISR() // kick off the very first scheduling decision

	for {
		var tickFired <-chan time.Time
		if k.dport != nil {
			tickFired = k.dport.tickChan()
		}
		select {
		case <-k.stopC:
			return
		case <-k.serviceC:
			k.yieldISR()
		case <-tickFired:
			k.yieldISR()
		}
	}
}

// Stop halts the scheduler loop started by Run. Primarily for tests and
// graceful shutdown of a hosted process; bare-metal Argon has no
// equivalent since it never returns from ar_kernel_run.
func (k *Kernel) Stop() {
	close(k.stopC)
}

// yieldISR is the Go-hosted analogue of kernel_yield_isr: drain elapsed
// ticks, run any deferred actions posted from simulated interrupt context,
// then run the scheduler (spec.md §4.1).
func (k *Kernel) yieldISR() {
	k.lock()
	defer k.unlock()

	k.advanceTicksLocked()

	k.runningDeferred = true
	k.deferred.drainLocked()
	k.runningDeferred = false

	k.scheduleLocked()
}

// advanceTicksLocked folds elapsed wall-clock time into tickCount, waking
// any sleeping or blocked-with-timeout threads whose wakeup has arrived.
// Ticks that elapse between scheduler entries (because the lock was held,
// or because tickless idle legitimately skipped ahead) are recorded in
// missedTickCount rather than causing repeated per-tick catch-up work.
func (k *Kernel) advanceTicksLocked() {
	now := int64(k.port.Now() / k.tick)
	if now <= k.tickCount {
		return
	}
	elapsed := now - k.tickCount
	if elapsed > 1 {
		k.missedTickCount += elapsed - 1
	}
	k.tickCount = now
	k.wakeDueLocked()
}

// wakeDueLocked moves every sleeping thread whose wakeup tick has arrived
// to Ready, and resolves the timeout of any Blocked thread found on the
// sleeping list the same way (spec.md §4.3's "Blocked, tick>=wakeup ->
// Ready, unblockStatus=Timeout").
func (k *Kernel) wakeDueLocked() {
	for {
		n := k.sleeping.FrontNode()
		if n == nil {
			break
		}
		t := n.Owner()
		if t.wakeupTick > k.tickCount {
			break
		}
		k.sleeping.Remove(n)
		t.wakeupTick = 0

		if t.state == ThreadSleeping {
			k.readyLocked(t)
		} else if t.state == ThreadBlocked {
			if t.waitList != nil {
				t.waitList.Remove(&t.blockedNode)
				t.waitList = nil
			}
			t.unblockStatus = StatusTimeout
			k.readyLocked(t)
		}
	}

	for _, rl := range k.allRunLoopsLocked() {
		rl.wakeDueTimersLocked(k.tickCount)
	}
}

func (k *Kernel) allRunLoopsLocked() []*RunLoop {
	k.runloopsMu.Lock()
	defer k.runloopsMu.Unlock()
	out := make([]*RunLoop, 0, len(k.byThread))
	seen := make(map[*RunLoop]bool)
	for _, rl := range k.byThread {
		if !seen[rl] {
			seen[rl] = true
			out = append(out, rl)
		}
	}
	return out
}

// requestReschedule marks that the scheduler must run before the lock is
// released. Equivalent to spec.md's needsReschedule flag.
func (k *Kernel) requestReschedule() { k.needsReschedule = true }

// scheduleLocked implements the three scheduler rules of spec.md §4.2. It
// checks the newly selected thread's stack canary (the Go port's analogue:
// a goroutine-budget/liveness check, see Thread.checkCanaryLocked) before
// committing to the switch, and halts on violation exactly as spec.md
// prescribes for the bare-metal canary check.
func (k *Kernel) scheduleLocked() {
	k.needsReschedule = false

	next := k.pickNextLocked()
	prev := k.current
	if next != prev {
		now := k.port.Now()
		if prev != nil {
			prev.runAccum += now - prev.lastRunMark
		}
		next.lastRunMark = now
		if prev != nil && prev.state == ThreadRunning {
			prev.state = ThreadReady
		}
		next.checkCanaryLocked(k)
		next.state = ThreadRunning
		k.current = next
		k.switchTo(prev, next)
	}

	k.recomputeRoundRobinLocked()
	k.armNextWakeupLocked()
}

// leaveReadyLocked removes a thread from the ready list if it is currently
// a member of it (true whenever its state is Ready or Running, per
// invariant 2).
func (k *Kernel) leaveReadyLocked(t *Thread) {
	if t.state == ThreadReady || t.state == ThreadRunning {
		k.ready.Remove(&t.schedNode)
	}
}

// pickNextLocked implements spec.md §4.2. The ready list always contains
// the running thread too (invariant 2), so round-robin can advance a
// cursor through it in place instead of physically requeuing nodes: two
// equal-priority threads are contiguous at the front of the list (it is
// sorted by priority descending), and advancing from the current thread's
// node either stays inside that contiguous group or falls off it, at which
// point we wrap back to the list head to re-enter the group.
func (k *Kernel) pickNextLocked() *Thread {
	head := k.ready.Front() // always non-nil: the idle thread never leaves the ready list
	if k.current == nil || k.current.state != ThreadRunning {
		return head
	}
	if head.priority > k.current.priority {
		return head
	}
	if k.needsRoundRobin {
		n := k.current.schedNode.Next()
		if n != nil && n.Owner().priority == k.current.priority {
			return n.Owner()
		}
		return head
	}
	return k.current
}

// switchTo performs the Go-hosted "context switch": it readies the
// goroutine gaining the CPU. It does not park the goroutine losing it: a
// thread that is blocking parks itself after this method returns, and a
// preempted thread's goroutine keeps running until its next blocking call
// or Yield.
func (k *Kernel) switchTo(prev, next *Thread) {
	if next != nil {
		next.parker.ready()
	}
	_ = prev
}

// recomputeRoundRobinLocked implements invariant 7: needsRoundRobin is true
// iff the two highest-priority ready threads share a priority.
func (k *Kernel) recomputeRoundRobinLocked() {
	first := k.ready.FrontNode()
	if first == nil {
		k.needsRoundRobin = false
		return
	}
	second := first.Next()
	k.needsRoundRobin = second != first && second.Owner().priority == first.Owner().priority
}

// armNextWakeupLocked implements invariant 8: the earliest sleeping
// wakeup, the earliest active-timer wakeup, or tickCount+1 when
// round-robin is in force; zero means no scheduled wakeup (tickless idle).
func (k *Kernel) armNextWakeupLocked() {
	var next int64
	if n := k.sleeping.FrontNode(); n != nil {
		next = n.Owner().wakeupTick
	}
	for _, rl := range k.allRunLoopsLocked() {
		if w, ok := rl.earliestTimerWakeupLocked(); ok {
			if next == 0 || w < next {
				next = w
			}
		}
	}
	if k.needsRoundRobin {
		rr := k.tickCount + 1
		if next == 0 || rr < next {
			next = rr
		}
	}
	k.nextWakeupTick = next

	if next == 0 {
		k.port.ArmTick(0)
		return
	}
	delta := next - k.tickCount
	if delta < 1 {
		delta = 1
	}
	k.port.ArmTick(time.Duration(delta) * k.tick)
}

// newThreadID returns a unique, monotonically increasing thread id.
func (k *Kernel) newThreadID() uint64 {
	return atomic.AddUint64(&k.threadIDCounter, 1)
}

// readyLocked transitions a thread to Ready, inserts it on the ready list
// and requests a reschedule.
// The caller must ensure t is not already a member of the ready list
// (i.e. it was Suspended, Sleeping, or Blocked beforehand).
func (k *Kernel) readyLocked(t *Thread) {
	t.state = ThreadReady
	k.ready.Insert(&t.schedNode)
	k.recomputeRoundRobinLocked()
	k.requestReschedule()
}

// blockLocked implements spec.md §4.3's block(list, timeout) transition:
// remove from ready, add to list, and if the timeout is finite also add to
// the sleeping list (invariant 4).
func (k *Kernel) blockLocked(t *Thread, list *dlist.List[Thread], timeout time.Duration) {
	k.leaveReadyLocked(t)
	t.state = ThreadBlocked
	t.waitList = list
	list.Insert(&t.blockedNode)

	if timeout != TimeoutNever {
		t.wakeupTick = k.tickCount + ticksFor(timeout, k.tick)
		k.sleeping.Insert(&t.schedNode)
	} else {
		t.wakeupTick = 0
	}
	k.requestReschedule()
}

// unblockLocked implements spec.md §4.3's unblock(status) transition.
func (k *Kernel) unblockLocked(t *Thread, status Status) {
	if t.state != ThreadBlocked {
		return
	}
	if t.waitList != nil {
		t.waitList.Remove(&t.blockedNode)
		t.waitList = nil
	}
	if t.wakeupTick != 0 {
		k.sleeping.Remove(&t.schedNode)
		t.wakeupTick = 0
	}
	t.unblockStatus = status
	k.readyLocked(t)
}

// blockAndWait is the shared suspension point used by every primitive's
// blocking Get/Receive/Send. Must be called with k locked; it drops the
// lock across the actual goroutine park and re-acquires it before
// returning, so callers keep their existing `defer k.unlock()` pattern.
func (k *Kernel) blockAndWait(t *Thread, list *dlist.List[Thread], timeout time.Duration) Status {
	k.blockLocked(t, list, timeout)
	k.scheduleLocked()
	k.unlock()
	t.checkpointBlocking()
	k.lock()
	return t.unblockStatus
}

func ticksFor(d time.Duration, quantum time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	n := int64(d / quantum)
	if n < 1 {
		n = 1
	}
	return n
}

// halt reports a fatal, unrecoverable kernel invariant violation.
func (k *Kernel) halt(reason string) {
	k.log.Error().Str("reason", reason).Msg("argon: halting")
	k.port.Halt(reason)
}
