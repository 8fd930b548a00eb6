package argon_test

import (
	"testing"
	"time"

	argon "github.com/flit/argon-rtos-go"
	"github.com/flit/argon-rtos-go/port"
	"github.com/stretchr/testify/require"
)

// TestObjectCreationFromISRRejected exercises spec.md §5's "object
// creation/deletion from ISR is rejected" rule across every creation
// function, using port.SimulateInterrupt to actually enter simulated
// interrupt context rather than relying on a flag nothing ever sets.
func TestObjectCreationFromISRRejected(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	th, status := argon.ThreadCreate(k, "t", func(any) {}, nil, 4096, 2, false)
	require.Equal(t, argon.StatusSuccess, status)

	port.SimulateInterrupt(func() {
		_, status := argon.ThreadCreate(k, "isr-thread", func(any) {}, nil, 4096, 2, false)
		require.Equal(t, argon.StatusNotFromInterrupt, status)

		var sem argon.Semaphore
		require.Equal(t, argon.StatusNotFromInterrupt, argon.SemaphoreCreate(k, &sem, "s", 0))

		var mtx argon.Mutex
		require.Equal(t, argon.StatusNotFromInterrupt, argon.MutexCreate(k, &mtx, "m"))

		var q argon.Queue[int]
		require.Equal(t, argon.StatusNotFromInterrupt, argon.QueueCreate(k, &q, "q", 1))

		var ch argon.Channel[int]
		require.Equal(t, argon.StatusNotFromInterrupt, argon.ChannelCreate(k, &ch, "c"))

		var rl argon.RunLoop
		require.Equal(t, argon.StatusNotFromInterrupt, argon.RunLoopCreate(k, &rl, "rl", th))

		var tm argon.Timer
		require.Equal(t, argon.StatusNotFromInterrupt,
			argon.TimerCreate(k, &tm, "tm", &rl, argon.TimerOneShot, time.Second, nil, nil))
	})

	// Outside the simulated ISR, the same calls succeed normally.
	var sem argon.Semaphore
	require.Equal(t, argon.StatusSuccess, argon.SemaphoreCreate(k, &sem, "s2", 0))
}
