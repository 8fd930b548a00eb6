package argon

import (
	"time"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// Semaphore is a counting semaphore with a strict FIFO wait list — priority
// is deliberately ignored to preserve the historical semantics spec.md
// documents (spec.md §4.4).
type Semaphore struct {
	kernel *Kernel
	name   string
	count  uint32
	wait   *dlist.List[Thread]
}

// SemaphoreCreate initializes sem in place. Caller owns sem's storage.
func SemaphoreCreate(k *Kernel, sem *Semaphore, name string, initialCount uint32) Status {
	if k.port.InInterrupt() {
		return StatusNotFromInterrupt
	}
	sem.kernel = k
	sem.name = name
	sem.count = initialCount
	sem.wait = dlist.New[Thread](nil) // FIFO
	return StatusSuccess
}

// Delete unblocks every waiter with StatusObjectDeleted and releases the
// semaphore. It is always safe to call even while threads are blocked on
// it (spec.md §3, "Lifecycle").
func (s *Semaphore) Delete() Status {
	k := s.kernel
	k.lock()
	defer k.unlock()
	for !s.wait.Empty() {
		t := s.wait.Front()
		k.unblockLocked(t, StatusObjectDeleted)
	}
	return StatusSuccess
}

// Get acquires the semaphore, blocking up to timeout if its count is zero.
func (s *Semaphore) Get(timeout time.Duration) Status {
	k := s.kernel
	k.lock()
	defer k.unlock()
	return s.getLocked(k.GetCurrentThreadLocked(), timeout)
}

// getLocked implements spec.md §4.4's get(timeout), assuming the kernel
// lock is already held.
func (s *Semaphore) getLocked(self *Thread, timeout time.Duration) Status {
	k := s.kernel
	for {
		if s.count > 0 {
			s.count--
			return StatusSuccess
		}
		if timeout == 0 {
			return StatusTimeout
		}
		status := k.blockAndWait(self, s.wait, timeout)
		if status != StatusSuccess {
			return status
		}
		// Woken by Success: a higher-priority thread may have already
		// taken the count (FIFO wakeup does not itself transfer it), so
		// loop and recheck rather than assuming it is still ours.
	}
}

// Put increments the semaphore's count and, if any thread is waiting,
// wakes the one that has been waiting longest.
func (s *Semaphore) Put() Status {
	k := s.kernel
	k.lock()
	defer k.unlock()
	s.putLocked()
	return StatusSuccess
}

func (s *Semaphore) putLocked() {
	k := s.kernel
	s.count++
	if !s.wait.Empty() {
		k.unblockLocked(s.wait.Front(), StatusSuccess)
	}
}

// PutFromISR defers the increment to the next drain, as spec.md requires
// for all ISR-context primitive calls.
func (s *Semaphore) PutFromISR() Status {
	k := s.kernel
	if !k.deferred.post(func() { s.putLocked() }) {
		k.halt("deferred queue overflow in Semaphore.PutFromISR")
	}
	return StatusSuccess
}

// GetFromISR is the non-blocking ISR variant (timeout is always effectively
// zero from interrupt context per spec.md §5).
func (s *Semaphore) GetFromISR() Status {
	k := s.kernel
	result := make(chan Status, 1)
	if !k.deferred.post(func() {
		if s.count > 0 {
			s.count--
			result <- StatusSuccess
		} else {
			result <- StatusTimeout
		}
	}) {
		k.halt("deferred queue overflow in Semaphore.GetFromISR")
	}
	return <-result
}

// Count returns the semaphore's current count.
func (s *Semaphore) Count() uint32 {
	k := s.kernel
	k.lock()
	defer k.unlock()
	return s.count
}
