package argon

import (
	"time"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// RunLoop multiplexes timers and bound queues onto a single thread (spec.md
// §4.9): exactly one thread calls Run, which repeatedly fires due timers,
// runs posted functions, and dispatches one item from whichever bound
// queue has data, sleeping the owning thread in between using the same
// Thread.Sleep suspension point as every other blocking call.
type RunLoop struct {
	kernel *Kernel
	name   string
	thread *Thread

	timers    *dlist.List[Timer]
	funcQueue *ring[func()]
	queues    []runLoopQueueBinding

	running       bool
	stopRequested bool
}

type runLoopQueueBinding interface {
	queueHasPendingLocked() bool
	// dispatchPendingLocked pops and handles one item. If the queue has no
	// handler attached it pops nothing and returns false — the caller must
	// then exit Run with StatusRunLoopQueueReceived per spec.md §4.9.
	dispatchPendingLocked(k *Kernel) bool
}

type queueBinding[T any] struct {
	q       *Queue[T]
	handler func(item T)
}

func (b *queueBinding[T]) queueHasPendingLocked() bool { return b.q.count > 0 }

func (b *queueBinding[T]) dispatchPendingLocked(k *Kernel) bool {
	if b.handler == nil {
		return false
	}
	item := b.q.popLocked()
	b.q.wakeOneSenderLocked()
	k.unlock()
	b.handler(item)
	k.lock()
	return true
}

// RunLoopCreate initializes rl in place and binds it to thread, which must
// not already own a run loop.
func RunLoopCreate(k *Kernel, rl *RunLoop, name string, thread *Thread) Status {
	if k.port.InInterrupt() {
		return StatusNotFromInterrupt
	}
	if thread == nil {
		return StatusInvalidParameter
	}
	k.lock()
	if thread.runLoop != nil {
		k.unlock()
		return StatusAlreadyAttached
	}
	rl.kernel = k
	rl.name = name
	rl.thread = thread
	rl.timers = dlist.New[Timer](func(a, b *Timer) bool { return a.wakeupTick < b.wakeupTick })
	rl.funcQueue = newRing[func()](16)
	thread.runLoop = rl
	k.unlock()

	k.runloopsMu.Lock()
	k.byThread[thread.id] = rl
	k.runloopsMu.Unlock()
	return StatusSuccess
}

// CurrentRunLoop returns the run loop bound to the thread currently
// executing, or nil if none is bound (SPEC_FULL.md §9 supplement).
func CurrentRunLoop(k *Kernel) *RunLoop {
	t := k.GetCurrentThread()
	if t == nil {
		return nil
	}
	k.runloopsMu.Lock()
	defer k.runloopsMu.Unlock()
	return k.byThread[t.id]
}

// AddTimer arms t, which must already be bound to rl via TimerCreate.
func (rl *RunLoop) AddTimer(t *Timer) Status {
	if t.runLoop != rl {
		return StatusInvalidParameter
	}
	return t.Start()
}

// RunLoopAddQueue binds q to rl. When Run later finds q non-empty it calls
// handler with the popped item; if handler is nil, Run instead exits with
// StatusRunLoopQueueReceived so the caller can service the queue itself
// (spec.md §4.9's "queue with no handler wakes the run loop's caller").
//
// A generic method cannot itself introduce a type parameter beyond its
// receiver's, so this is a free function rather than a RunLoop method —
// mirrored by QueueCreate and ChannelCreate.
func RunLoopAddQueue[T any](rl *RunLoop, q *Queue[T], handler func(item T)) Status {
	k := rl.kernel
	k.lock()
	defer k.unlock()
	if q.runLoop != nil {
		return StatusAlreadyAttached
	}
	q.runLoop = rl
	rl.queues = append(rl.queues, &queueBinding[T]{q: q, handler: handler})
	return StatusSuccess
}

// Perform posts fn to run on rl's thread the next time Run executes,
// waking it immediately if it is currently sleeping. Safe to call from any
// thread.
func (rl *RunLoop) Perform(fn func()) Status {
	if fn == nil {
		return StatusInvalidParameter
	}
	if !rl.funcQueue.tryPush(fn) {
		return StatusOutOfMemory
	}
	k := rl.kernel
	k.lock()
	if st := rl.thread.state; st == ThreadSleeping || st == ThreadSuspended {
		k.resumeLocked(rl.thread)
	}
	k.unlock()
	return StatusSuccess
}

// Stop requests that a running Run return StatusRunLoopStopped at its next
// opportunity, waking rl's thread immediately if it is sleeping.
func (rl *RunLoop) Stop() Status {
	k := rl.kernel
	k.lock()
	defer k.unlock()
	return rl.stopLocked()
}

func (rl *RunLoop) stopLocked() Status {
	k := rl.kernel
	rl.stopRequested = true
	if st := rl.thread.state; st == ThreadSleeping || st == ThreadSuspended {
		k.resumeLocked(rl.thread)
	}
	return StatusSuccess
}

// StopFromISR defers Stop to the next drain, as spec.md requires for all
// ISR-context primitive calls.
func (rl *RunLoop) StopFromISR() Status {
	k := rl.kernel
	if !k.deferred.post(func() { rl.stopLocked() }) {
		k.halt("deferred queue overflow in RunLoop.StopFromISR")
	}
	return StatusSuccess
}

// markQueuePendingLocked wakes rl's thread when one of its bound queues
// just received an item while rl's thread was asleep waiting on Run.
// Called with the kernel lock already held (from Queue.Send/SendFromISR).
func (rl *RunLoop) markQueuePendingLocked() {
	if st := rl.thread.state; st == ThreadSleeping || st == ThreadSuspended {
		rl.kernel.resumeLocked(rl.thread)
	}
}

// earliestTimerWakeupLocked returns rl's soonest-firing active timer's
// wakeup tick, if it has one.
func (rl *RunLoop) earliestTimerWakeupLocked() (int64, bool) {
	n := rl.timers.FrontNode()
	if n == nil {
		return 0, false
	}
	return n.Owner().wakeupTick, true
}

// wakeDueTimersLocked wakes rl's thread if it is sleeping and a bound
// timer's deadline has arrived, so Run's own loop (not the tick-advance
// caller, which may be a different goroutine) is the one that actually
// invokes the callback.
func (rl *RunLoop) wakeDueTimersLocked(tickCount int64) {
	n := rl.timers.FrontNode()
	if n == nil || n.Owner().wakeupTick > tickCount {
		return
	}
	if st := rl.thread.state; st == ThreadSleeping || st == ThreadSuspended {
		rl.kernel.resumeLocked(rl.thread)
	}
}

// Run executes rl's dispatch loop on the calling thread, which must be the
// thread rl was bound to at RunLoopCreate. It returns when timeout elapses
// (StatusTimeout), Stop is called (StatusRunLoopStopped), or a bound queue
// with no handler receives an item (StatusRunLoopQueueReceived).
func (rl *RunLoop) Run(timeout time.Duration) Status {
	k := rl.kernel
	k.lock()
	if rl.running {
		k.unlock()
		return StatusRunLoopAlreadyRunning
	}
	rl.running = true
	rl.stopRequested = false
	deadline := int64(-1)
	if timeout != TimeoutNever {
		deadline = k.tickCount + ticksFor(timeout, k.tick)
	}
	k.unlock()

	self := rl.thread
	for {
		k.lock()

		if rl.stopRequested {
			rl.running = false
			k.unlock()
			return StatusRunLoopStopped
		}

		for {
			n := rl.timers.FrontNode()
			if n == nil || n.Owner().wakeupTick > k.tickCount {
				break
			}
			n.Owner().fireLocked(k)
		}

		if fn, ok := rl.funcQueue.tryPop(); ok {
			k.unlock()
			fn()
			k.lock()
		}

		dispatched := false
		for _, qb := range rl.queues {
			if qb.queueHasPendingLocked() {
				if !qb.dispatchPendingLocked(k) {
					rl.running = false
					k.unlock()
					return StatusRunLoopQueueReceived
				}
				dispatched = true
				break
			}
		}

		if deadline >= 0 && k.tickCount >= deadline {
			rl.running = false
			k.unlock()
			return StatusTimeout
		}

		sleepFor := rl.nextSleepLocked(deadline)
		k.unlock()

		if dispatched {
			continue
		}
		self.Sleep(sleepFor)
	}
}

// nextSleepLocked computes how long rl's thread should sleep before the
// next timer deadline or overall Run deadline, or TimeoutNever if neither
// is set (Perform/a bound queue receiving data will wake it early either
// way).
func (rl *RunLoop) nextSleepLocked(deadline int64) time.Duration {
	k := rl.kernel
	next := int64(-1)
	if n := rl.timers.FrontNode(); n != nil {
		next = n.Owner().wakeupTick
	}
	if deadline >= 0 && (next < 0 || deadline < next) {
		next = deadline
	}
	if next < 0 {
		return TimeoutNever
	}
	delta := next - k.tickCount
	if delta < 1 {
		delta = 1
	}
	return time.Duration(delta) * k.tick
}
