package argon

import (
	"time"

	"github.com/flit/argon-rtos-go/internal/dlist"
)

// TimerMode selects whether a Timer fires once or repeatedly (spec.md §4.8).
type TimerMode int

const (
	TimerOneShot TimerMode = iota
	TimerPeriodic
)

// TimerCallback runs on its run loop's thread when the timer fires.
type TimerCallback func(t *Timer, param any)

// Timer is a one-shot or periodic deadline bound to exactly one RunLoop
// (spec.md §4.8). Unlike Thread/Semaphore/Mutex/Queue/Channel, a Timer has
// no wait list of its own — its only state machine is running/stopped plus
// its position in its run loop's deadline-ordered list.
type Timer struct {
	kernel *Kernel
	name   string

	callback TimerCallback
	param    any
	mode     TimerMode
	delay    time.Duration

	runLoop *RunLoop
	node    dlist.Node[Timer]

	running    bool
	wakeupTick int64

	// inOwnCallback is set while callback is executing on this timer, so
	// SetDelay called from inside a periodic timer's own callback can
	// distinguish "reschedule relative to the period that just elapsed"
	// from an external caller's "restart the countdown from now"
	// (spec.md §4.8, set_delay semantics).
	inOwnCallback bool
}

// TimerCreate initializes t in place, bound to runLoop. t does not start
// running until Start is called.
func TimerCreate(k *Kernel, t *Timer, name string, runLoop *RunLoop, mode TimerMode, delay time.Duration, cb TimerCallback, param any) Status {
	if k.port.InInterrupt() {
		return StatusNotFromInterrupt
	}
	if runLoop == nil {
		return StatusTimerNoRunLoop
	}
	if delay <= 0 {
		return StatusInvalidParameter
	}
	t.kernel = k
	t.name = name
	t.callback = cb
	t.param = param
	t.mode = mode
	t.delay = delay
	t.runLoop = runLoop
	t.node.Bind(t)
	return StatusSuccess
}

// Start arms the timer to first fire after its configured delay.
func (t *Timer) Start() Status {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return t.startLocked()
}

func (t *Timer) startLocked() Status {
	k := t.kernel
	if t.running {
		t.runLoop.timers.Remove(&t.node)
	}
	t.wakeupTick = k.tickCount + ticksFor(t.delay, k.tick)
	t.running = true
	t.runLoop.timers.Insert(&t.node)
	k.requestReschedule()
	return StatusSuccess
}

// StartFromISR defers Start to the next drain, as spec.md requires for all
// ISR-context primitive calls.
func (t *Timer) StartFromISR() Status {
	k := t.kernel
	if !k.deferred.post(func() { t.startLocked() }) {
		k.halt("deferred queue overflow in Timer.StartFromISR")
	}
	return StatusSuccess
}

// Stop disarms the timer. A no-op if it is not currently running.
func (t *Timer) Stop() Status {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return t.stopLocked()
}

func (t *Timer) stopLocked() Status {
	if !t.running {
		return StatusTimerNotRunning
	}
	t.runLoop.timers.Remove(&t.node)
	t.running = false
	return StatusSuccess
}

// StopFromISR defers Stop to the next drain, as spec.md requires for all
// ISR-context primitive calls.
func (t *Timer) StopFromISR() Status {
	k := t.kernel
	if !k.deferred.post(func() { t.stopLocked() }) {
		k.halt("deferred queue overflow in Timer.StopFromISR")
	}
	return StatusSuccess
}

// IsActive reports whether the timer is currently armed.
func (t *Timer) IsActive() bool {
	k := t.kernel
	k.lock()
	defer k.unlock()
	return t.running
}

// SetDelay changes the timer's period/delay. If called from outside the
// timer's own callback, this also restarts the countdown from now. Called
// from within its own periodic callback, it does not restart the countdown:
// the next deadline, already computed from the deadline that just fired
// using the previous delay, is kept, and the new delay applies only to the
// periods after that deadline.
func (t *Timer) SetDelay(d time.Duration) Status {
	if d <= 0 {
		return StatusInvalidParameter
	}
	k := t.kernel
	k.lock()
	defer k.unlock()
	t.delay = d
	if t.inOwnCallback {
		return StatusSuccess
	}
	if t.running {
		return t.startLocked()
	}
	return StatusSuccess
}

// fireLocked runs the timer's callback and reschedules a periodic timer.
// Called by RunLoop.Run with the kernel lock held; the callback itself
// runs with the lock released, matching every other run-loop dispatch
// (spec.md §4.9).
func (t *Timer) fireLocked(k *Kernel) {
	t.runLoop.timers.Remove(&t.node)
	t.running = false

	missedPeriods := int64(0)
	if t.mode == TimerPeriodic {
		// Snap to the next period strictly after now, folding any whole
		// periods that scheduling delay overran into
		// missedPeriods rather than firing a burst of catch-up calls —
		// spec.md's drift-recovery requirement for periodic timers.
		period := ticksFor(t.delay, k.tick)
		if period < 1 {
			period = 1
		}
		next := t.wakeupTick + period
		if next <= k.tickCount {
			behind := k.tickCount - next
			missedPeriods = behind/period + 1
			next += missedPeriods * period
		}
		t.wakeupTick = next
		t.running = true
		t.runLoop.timers.Insert(&t.node)
	}

	if t.callback == nil {
		return
	}
	t.inOwnCallback = true
	k.unlock()
	t.callback(t, t.param)
	k.lock()
	t.inOwnCallback = false
	_ = missedPeriods

	// A callback that overran the deadline set above leaves the timer due;
	// snap it past the tick at callback end instead of firing at once.
	k.advanceTicksLocked()
	if t.mode == TimerPeriodic && t.running && t.wakeupTick <= k.tickCount {
		period := ticksFor(t.delay, k.tick)
		t.runLoop.timers.Remove(&t.node)
		t.wakeupTick += ((k.tickCount-t.wakeupTick)/period + 1) * period
		t.runLoop.timers.Insert(&t.node)
	}
}
