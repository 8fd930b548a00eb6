package argon

import (
	"time"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// Mutex is a recursive mutex with priority inheritance (spec.md §4.5). Its
// wait list is ordered by thread priority descending so handoff always
// goes to the highest-priority waiter.
type Mutex struct {
	kernel           *Kernel
	name             string
	owner            *Thread
	ownerLockCount   int
	originalPriority Priority // nonzero only while owner is boosted
	wait             *dlist.List[Thread]
}

// MutexCreate initializes mutex in place.
func MutexCreate(k *Kernel, mutex *Mutex, name string) Status {
	if k.port.InInterrupt() {
		return StatusNotFromInterrupt
	}
	mutex.kernel = k
	mutex.name = name
	mutex.wait = dlist.New[Thread](func(a, b *Thread) bool { return a.priority > b.priority })
	return StatusSuccess
}

// Delete unblocks every waiter with StatusObjectDeleted.
func (m *Mutex) Delete() Status {
	k := m.kernel
	k.lock()
	defer k.unlock()
	for !m.wait.Empty() {
		t := m.wait.Front()
		k.unblockLocked(t, StatusObjectDeleted)
	}
	return StatusSuccess
}

// Get acquires the mutex, recursively if the caller already owns it.
// Boosts the current owner's priority to the caller's if the caller
// outranks it (priority inheritance), blocking up to timeout.
func (m *Mutex) Get(timeout time.Duration) Status {
	k := m.kernel
	k.lock()
	defer k.unlock()
	return m.getLocked(k.GetCurrentThreadLocked(), timeout)
}

// getLocked implements spec.md §4.5's get(timeout), assuming the kernel
// lock is already held.
func (m *Mutex) getLocked(self *Thread, timeout time.Duration) Status {
	k := m.kernel
	for {
		if m.owner == self {
			m.ownerLockCount++
			return StatusSuccess
		}
		if m.owner == nil {
			m.owner = self
			m.ownerLockCount = 1
			return StatusSuccess
		}
		if timeout == 0 {
			return StatusTimeout
		}

		if self.priority > m.owner.priority {
			if m.originalPriority == 0 {
				m.originalPriority = m.owner.priority
			}
			m.owner.priority = self.priority
			if m.owner.state == ThreadReady || m.owner.state == ThreadRunning {
				k.ready.Reorder(&m.owner.schedNode)
			} else if m.owner.waitList != nil {
				k.reorderWaitListLocked(m.owner)
			}
		}

		status := k.blockAndWait(self, m.wait, timeout)
		if status != StatusSuccess {
			return status
		}
		m.owner = self
		m.ownerLockCount = 1
		return StatusSuccess
	}
}

// GetFromISR is the non-blocking ISR variant (spec.md §5 allows mutex.get
// from interrupt context only with an effective timeout of 0). Deferred to
// the next drain, like every other ISR-context call.
func (m *Mutex) GetFromISR() Status {
	k := m.kernel
	result := make(chan Status, 1)
	if !k.deferred.post(func() {
		result <- m.getLocked(k.GetCurrentThreadLocked(), 0)
	}) {
		k.halt("deferred queue overflow in Mutex.GetFromISR")
	}
	return <-result
}

// Put releases one level of recursive ownership. Must be called by the
// current owner.
func (m *Mutex) Put() Status {
	k := m.kernel
	k.lock()
	defer k.unlock()
	return m.putLocked(k.GetCurrentThreadLocked())
}

// putLocked implements spec.md §4.5's put(), assuming the kernel lock is
// already held.
func (m *Mutex) putLocked(self *Thread) Status {
	k := m.kernel
	if m.owner == nil {
		return StatusAlreadyUnlocked
	}
	if m.owner != self {
		return StatusNotOwner
	}
	m.ownerLockCount--
	if m.ownerLockCount > 0 {
		return StatusSuccess
	}

	prevOwner := m.owner
	m.owner = nil

	// Restore the owner's priority before unblocking the next waiter, so
	// the now-deboosted thread is correctly re-sorted on the ready list
	// ahead of deciding who runs next (spec.md §4.5).
	if m.originalPriority != 0 {
		prevOwner.priority = m.originalPriority
		m.originalPriority = 0
		if prevOwner.state == ThreadReady || prevOwner.state == ThreadRunning {
			k.ready.Reorder(&prevOwner.schedNode)
		}
	}

	if !m.wait.Empty() {
		next := m.wait.Front()
		k.unblockLocked(next, StatusSuccess)
	}
	return StatusSuccess
}

// PutFromISR is the deferred ISR-context variant of Put (spec.md §5).
func (m *Mutex) PutFromISR() Status {
	k := m.kernel
	result := make(chan Status, 1)
	if !k.deferred.post(func() {
		result <- m.putLocked(k.GetCurrentThreadLocked())
	}) {
		k.halt("deferred queue overflow in Mutex.PutFromISR")
	}
	return <-result
}

// IsLocked reports whether the mutex is currently owned.
func (m *Mutex) IsLocked() bool {
	k := m.kernel
	k.lock()
	defer k.unlock()
	return m.owner != nil
}

// Owner returns the mutex's current owning thread, or nil if unowned.
func (m *Mutex) Owner() *Thread {
	k := m.kernel
	k.lock()
	defer k.unlock()
	return m.owner
}
