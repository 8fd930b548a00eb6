package argon

import (
	"time"
	"unsafe"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// Channel is a synchronous rendezvous channel (spec.md §4.7): unlike Queue,
// it has no backing storage, so Send blocks until a Receive is waiting (or
// vice versa) and data is handed off directly between the two parties'
// stack frames — mirroring the original's use of each blocked thread's
// own chanData pointer as the transfer point rather than a shared buffer.
type Channel[T any] struct {
	kernel *Kernel
	name   string

	sendWait *dlist.List[Thread]
	recvWait *dlist.List[Thread]
}

// ChannelCreate initializes ch in place.
func ChannelCreate[T any](k *Kernel, ch *Channel[T], name string) Status {
	if k.port.InInterrupt() {
		return StatusNotFromInterrupt
	}
	ch.kernel = k
	ch.name = name
	ch.sendWait = dlist.New[Thread](func(a, b *Thread) bool { return a.priority > b.priority })
	ch.recvWait = dlist.New[Thread](func(a, b *Thread) bool { return a.priority > b.priority })
	return StatusSuccess
}

// Delete unblocks every party waiting to rendezvous with StatusObjectDeleted.
func (ch *Channel[T]) Delete() Status {
	k := ch.kernel
	k.lock()
	defer k.unlock()
	for !ch.sendWait.Empty() {
		k.unblockLocked(ch.sendWait.Front(), StatusObjectDeleted)
	}
	for !ch.recvWait.Empty() {
		k.unblockLocked(ch.recvWait.Front(), StatusObjectDeleted)
	}
	return StatusSuccess
}

// Send hands item directly to a waiting Receive, blocking up to timeout
// until one arrives (spec.md §4.7, "rendezvous: whichever party arrives
// second completes the transfer and wakes the first").
func (ch *Channel[T]) Send(item T, timeout time.Duration) Status {
	k := ch.kernel
	k.lock()
	defer k.unlock()
	self := k.GetCurrentThreadLocked()

	if !ch.recvWait.Empty() {
		receiver := ch.recvWait.Front()
		*(*T)(receiver.chanData) = item
		k.unblockLocked(receiver, StatusSuccess)
		return StatusSuccess
	}
	if timeout == 0 {
		return StatusTimeout
	}

	self.chanData = unsafe.Pointer(&item)
	status := k.blockAndWait(self, ch.sendWait, timeout)
	self.chanData = nil
	return status
}

// SendFromISR hands item to a waiting receiver without blocking, deferred
// to the next drain. Returns StatusTimeout if no receiver is waiting
// (spec.md §5: ISR calls can never block).
func (ch *Channel[T]) SendFromISR(item T) Status {
	k := ch.kernel
	result := make(chan Status, 1)
	if !k.deferred.post(func() {
		if ch.recvWait.Empty() {
			result <- StatusTimeout
			return
		}
		receiver := ch.recvWait.Front()
		*(*T)(receiver.chanData) = item
		k.unblockLocked(receiver, StatusSuccess)
		result <- StatusSuccess
	}) {
		k.halt("deferred queue overflow in Channel.SendFromISR")
	}
	return <-result
}

// Receive blocks up to timeout for a Send to rendezvous with, returning the
// transferred value.
func (ch *Channel[T]) Receive(timeout time.Duration) (T, Status) {
	k := ch.kernel
	k.lock()
	defer k.unlock()
	self := k.GetCurrentThreadLocked()

	var zero T
	if !ch.sendWait.Empty() {
		sender := ch.sendWait.Front()
		item := *(*T)(sender.chanData)
		k.unblockLocked(sender, StatusSuccess)
		return item, StatusSuccess
	}
	if timeout == 0 {
		return zero, StatusTimeout
	}

	self.chanData = unsafe.Pointer(&zero)
	status := k.blockAndWait(self, ch.recvWait, timeout)
	self.chanData = nil
	if status != StatusSuccess {
		return zero, status
	}
	return zero, StatusSuccess
}

// ReceiveFromISR is always rejected: a rendezvous receive must be able to
// block arbitrarily long waiting for a sender, which interrupt context can
// never do (spec.md §5).
func (ch *Channel[T]) ReceiveFromISR() (T, Status) {
	var zero T
	return zero, StatusNotFromInterrupt
}
