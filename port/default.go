package port

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// defaultPort is the reference Port implementation: a monotonic clock
// backed by time.Now, a tick source backed by time.Timer (so tickless idle
// really does stop the timer rather than busy-polling), and a halt hook
// that logs a fatal structured event and exits the process — the closest a
// hosted process gets to a firmware halt loop.
type defaultPort struct {
	start    time.Time
	timer    *time.Timer
	serviceC chan struct{}
	log      zerolog.Logger
}

// New returns the default hosted Port. serviceC is the channel the
// scheduler goroutine drains to notice a pended service call; it must be
// shared with the Kernel that owns this port (see NewKernel).
func New(serviceC chan struct{}, log zerolog.Logger) Port {
	p := &defaultPort{
		start:    time.Now(),
		timer:    time.NewTimer(time.Hour),
		serviceC: serviceC,
		log:      log,
	}
	p.timer.Stop()
	return p
}

func (p *defaultPort) Now() time.Duration { return time.Since(p.start) }

func (p *defaultPort) ArmTick(d time.Duration) {
	p.timer.Stop()
	select {
	case <-p.timer.C:
	default:
	}
	if d <= 0 {
		return
	}
	p.timer.Reset(d)
}

// TickChannel exposes the underlying timer so the kernel's scheduler
// goroutine can select on it alongside the service-call channel. Not part
// of the Port interface: it is a detail of this hosted implementation, not
// every port needs to expose its timer this way.
func (p *defaultPort) TickChannel() <-chan time.Time { return p.timer.C }

func (p *defaultPort) RequestService() {
	select {
	case p.serviceC <- struct{}{}:
	default:
		// Already pended; the scheduler will notice on its next drain.
	}
}

var hostedInterrupt int32

func (p *defaultPort) InInterrupt() bool {
	return atomic.LoadInt32(&hostedInterrupt) != 0
}

// SimulateInterrupt runs fn with the calling goroutine marked as executing
// in simulated interrupt context, so that InInterrupt reports true and the
// kernel's NotFromInterrupt/deferred-action rules take effect for anything
// fn calls. Since a hosted Go process has no real exception levels, this is
// the only way to exercise spec.md §5's ISR rules outside real firmware.
//
// The marker is process-wide rather than per-goroutine: a hosted process
// hosts exactly one kernel, so this is equivalent to disabling interrupts
// on a single-core target while fn runs.
func SimulateInterrupt(fn func()) {
	atomic.StoreInt32(&hostedInterrupt, 1)
	defer atomic.StoreInt32(&hostedInterrupt, 0)
	fn()
}

func (p *defaultPort) Halt(reason string) {
	p.log.Fatal().Str("reason", reason).Msg("argon: fatal kernel invariant violation, halting")
	os.Exit(1)
}
