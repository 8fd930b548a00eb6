package argon

import (
	"time"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// Queue is a bounded FIFO blocking queue of T (spec.md §4.6). spec.md's C
// queue stores fixed-size elements by raw byte copy into a caller-supplied
// backing array; Go's type system makes that unnecessary, so Queue is
// generic over T and backed by a slice ring buffer protected by the kernel
// lock (not the lock-free ring.go, since send/receive here routinely block
// rather than fail fast, and the blocking decision must be made under the
// same lock as the wait lists).
type Queue[T any] struct {
	kernel *Kernel
	name   string

	buf   []T
	head  int
	count int

	sendWait *dlist.List[Thread]
	recvWait *dlist.List[Thread]

	runLoop *RunLoop
}

// QueueCreate initializes queue in place with the given element capacity.
func QueueCreate[T any](k *Kernel, queue *Queue[T], name string, capacity int) Status {
	if k.port.InInterrupt() {
		return StatusNotFromInterrupt
	}
	if capacity <= 0 {
		return StatusInvalidParameter
	}
	queue.kernel = k
	queue.name = name
	queue.buf = make([]T, capacity)
	queue.sendWait = dlist.New[Thread](func(a, b *Thread) bool { return a.priority > b.priority })
	queue.recvWait = dlist.New[Thread](func(a, b *Thread) bool { return a.priority > b.priority })
	return StatusSuccess
}

// Delete unblocks every sender and receiver with StatusObjectDeleted.
func (q *Queue[T]) Delete() Status {
	k := q.kernel
	k.lock()
	defer k.unlock()
	for !q.sendWait.Empty() {
		k.unblockLocked(q.sendWait.Front(), StatusObjectDeleted)
	}
	for !q.recvWait.Empty() {
		k.unblockLocked(q.recvWait.Front(), StatusObjectDeleted)
	}
	return StatusSuccess
}

func (q *Queue[T]) pushLocked(item T) {
	idx := (q.head + q.count) % len(q.buf)
	q.buf[idx] = item
	q.count++
}

func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}

// Send enqueues item, blocking up to timeout if the queue is full.
func (q *Queue[T]) Send(item T, timeout time.Duration) Status {
	k := q.kernel
	k.lock()
	defer k.unlock()
	self := k.GetCurrentThreadLocked()

	for q.count == len(q.buf) {
		if timeout == 0 {
			return StatusQueueFull
		}
		status := k.blockAndWait(self, q.sendWait, timeout)
		if status != StatusSuccess {
			return status
		}
	}
	q.pushLocked(item)
	q.wakeOneReceiverLocked()
	q.notifyRunLoopLocked()
	return StatusSuccess
}

// SendFromISR enqueues item without blocking on the queue, deferred to the
// next drain. The call waits for that drain and returns its result:
// StatusQueueFull if the queue was full when the deferred action ran,
// StatusSuccess otherwise.
func (q *Queue[T]) SendFromISR(item T) Status {
	k := q.kernel
	result := make(chan Status, 1)
	if !k.deferred.post(func() {
		if q.count == len(q.buf) {
			result <- StatusQueueFull
			return
		}
		q.pushLocked(item)
		q.wakeOneReceiverLocked()
		q.notifyRunLoopLocked()
		result <- StatusSuccess
	}) {
		k.halt("deferred queue overflow in Queue.SendFromISR")
	}
	return <-result
}

// Receive dequeues the oldest item, blocking up to timeout if empty.
func (q *Queue[T]) Receive(timeout time.Duration) (T, Status) {
	k := q.kernel
	k.lock()
	defer k.unlock()
	self := k.GetCurrentThreadLocked()

	var zero T
	for q.count == 0 {
		if timeout == 0 {
			return zero, StatusTimeout
		}
		status := k.blockAndWait(self, q.recvWait, timeout)
		if status != StatusSuccess {
			return zero, status
		}
	}
	item := q.popLocked()
	q.wakeOneSenderLocked()
	return item, StatusSuccess
}

func (q *Queue[T]) wakeOneReceiverLocked() {
	if !q.recvWait.Empty() {
		q.kernel.unblockLocked(q.recvWait.Front(), StatusSuccess)
	}
}

func (q *Queue[T]) wakeOneSenderLocked() {
	if !q.sendWait.Empty() {
		q.kernel.unblockLocked(q.sendWait.Front(), StatusSuccess)
	}
}

// notifyRunLoopLocked wakes the run loop this queue is bound to, if any
// (spec.md §4.9's "run loop polls bound queues").
func (q *Queue[T]) notifyRunLoopLocked() {
	if q.runLoop != nil {
		q.runLoop.markQueuePendingLocked()
	}
}

// Count returns the number of items currently queued.
func (q *Queue[T]) Count() int {
	k := q.kernel
	k.lock()
	defer k.unlock()
	return q.count
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue[T]) IsEmpty() bool { return q.Count() == 0 }
