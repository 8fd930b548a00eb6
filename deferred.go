package argon

// deferredQueue is the ISR-safe single-producer-API, multi-producer,
// single-consumer queue of pending kernel operations described in spec.md
// §4.10. It is built directly on the ring buffer (ring.go, itself adapted
// from the teacher's ZenQ slot protocol): posting a deferred action is
// exactly a ring push; draining is a loop of ring pops.
//
// spec.md's C representation packs a second argument into a sentinel
// "argument carrier" slot immediately following a two-argument entry,
// because a C function pointer + void* pair cannot itself carry a second
// void*. Go closures can capture an arbitrary number of arguments in a
// single value, so that representation trick has no purpose here: every
// post, one- or two-argument, occupies exactly one ring slot holding a
// closure that has already been bound to its arguments. This means the
// default capacity of 8 here bounds *pending actions*, not argument slots —
// documented as a deliberate simplification in DESIGN.md.
type deferredQueue struct {
	k   *Kernel
	buf *ring[func()]
}

func newDeferredQueue(k *Kernel, capacity int) *deferredQueue {
	return &deferredQueue{k: k, buf: newRing[func()](capacity)}
}

// post enqueues a deferred action. Safe to call from any goroutine,
// including ones simulating interrupt context, without ever blocking.
// Returns false if the queue is full — spec.md requires this to be fatal,
// callers should call Kernel.halt.
func (dq *deferredQueue) post(action func()) bool {
	if !dq.buf.tryPush(action) {
		return false
	}
	dq.k.port.RequestService()
	return true
}

// drainLocked runs every pending deferred action. Called at the start of
// every scheduler invocation with the kernel lock held and
// runningDeferred=true (spec.md §4.10): each action is a closure that
// re-enters the corresponding primitive's internal routine, so it inherits
// that primitive's full locking and blocking-decision semantics exactly as
// if invoked from a thread — except a deferred action must never itself
// block, since there is no thread backing it to park.
func (dq *deferredQueue) drainLocked() {
	for {
		action, ok := dq.buf.tryPop()
		if !ok {
			return
		}
		action()
	}
}

// Len reports the approximate number of pending deferred actions, for
// diagnostics only.
func (dq *deferredQueue) Len() int { return dq.buf.len() }
