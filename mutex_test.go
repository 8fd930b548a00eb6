package argon_test

import (
	"testing"
	"time"

	argon "github.com/flit/argon-rtos-go"
	"github.com/stretchr/testify/require"
)

func TestMutexRecursiveLock(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var mu argon.Mutex
	argon.MutexCreate(k, &mu, "m")

	done := make(chan struct{})
	argon.ThreadCreate(k, "t", func(any) {
		require.Equal(t, argon.StatusSuccess, mu.Get(argon.TimeoutNever))
		require.Equal(t, argon.StatusSuccess, mu.Get(argon.TimeoutNever)) // recursive
		require.Equal(t, argon.StatusSuccess, mu.Put())
		require.True(t, mu.IsLocked()) // still held once
		require.Equal(t, argon.StatusSuccess, mu.Put())
		require.False(t, mu.IsLocked())
		close(done)
	}, nil, 4096, 2, true)

	waitOn(t, done, time.Second)
}

func TestMutexPutByNonOwnerFails(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var mu argon.Mutex
	argon.MutexCreate(k, &mu, "m")

	result := make(chan argon.Status, 1)
	argon.ThreadCreate(k, "owner", func(any) {
		mu.Get(argon.TimeoutNever)
		time.Sleep(50 * time.Millisecond) // hold it while the other thread tries Put
	}, nil, 4096, 2, true)

	time.Sleep(10 * time.Millisecond)
	argon.ThreadCreate(k, "bystander", func(any) {
		result <- mu.Put()
	}, nil, 4096, 2, true)

	require.Equal(t, argon.StatusNotOwner, <-result)
}

func TestMutexPriorityInheritanceBoostsOwner(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var mu argon.Mutex
	argon.MutexCreate(k, &mu, "m")

	boosted := make(chan argon.Priority, 1)
	var low *argon.Thread
	low, _ = argon.ThreadCreate(k, "low", func(any) {
		mu.Get(argon.TimeoutNever)
		low.Sleep(40 * time.Millisecond)
		boosted <- low.GetPriority()
		mu.Put()
	}, nil, 4096, 1, true)

	time.Sleep(10 * time.Millisecond)

	argon.ThreadCreate(k, "high", func(any) {
		mu.Get(argon.TimeoutNever) // blocks, should boost low to 9
		mu.Put()
	}, nil, 4096, 9, true)

	select {
	case p := <-boosted:
		require.Equal(t, argon.Priority(9), p)
	case <-time.After(time.Second):
		t.Fatal("low thread never observed its boosted priority")
	}
}

func TestMutexGetAndPutFromISR(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var mu argon.Mutex
	argon.MutexCreate(k, &mu, "m")

	// Let the scheduler run at least once first, so the deferred action's
	// notion of "current thread" (the ISR's implicit owner) is a real
	// thread rather than the kernel's pre-schedule zero value.
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, argon.StatusSuccess, mu.GetFromISR())
	require.True(t, mu.IsLocked())
	require.Equal(t, argon.StatusSuccess, mu.PutFromISR())
	require.False(t, mu.IsLocked())
}

func TestMutexGetFromISRTimesOutWhenAlreadyOwned(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var mu argon.Mutex
	argon.MutexCreate(k, &mu, "m")

	done := make(chan struct{})
	argon.ThreadCreate(k, "owner", func(any) {
		require.Equal(t, argon.StatusSuccess, mu.Get(argon.TimeoutNever))
		close(done)
	}, nil, 4096, 2, true)

	waitOn(t, done, time.Second)
	require.Equal(t, argon.StatusTimeout, mu.GetFromISR())
}

func TestMutexDeleteUnblocksWaiter(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var mu argon.Mutex
	argon.MutexCreate(k, &mu, "m")

	var holder *argon.Thread
	holder, _ = argon.ThreadCreate(k, "holder", func(any) {
		mu.Get(argon.TimeoutNever)
		holder.Sleep(argon.TimeoutNever) // holds the mutex forever
	}, nil, 4096, 2, true)

	time.Sleep(10 * time.Millisecond)

	result := make(chan argon.Status, 1)
	argon.ThreadCreate(k, "waiter", func(any) {
		result <- mu.Get(argon.TimeoutNever)
	}, nil, 4096, 2, true)

	time.Sleep(10 * time.Millisecond)
	mu.Delete()

	select {
	case status := <-result:
		require.Equal(t, argon.StatusObjectDeleted, status)
	case <-time.After(time.Second):
		t.Fatal("mu.Get never unblocked after Delete")
	}
}
