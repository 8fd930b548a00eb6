package argon_test

import (
	"testing"
	"time"

	argon "github.com/flit/argon-rtos-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// TestQueuePreservesFIFOOrderAcrossManyItems checks the full received
// sequence at once with go-cmp rather than item-by-item, so a reordering
// bug shows the whole mismatched slice instead of just the first index.
func TestQueuePreservesFIFOOrderAcrossManyItems(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var q argon.Queue[int]
	argon.QueueCreate(k, &q, "q", 3)

	const n = 20
	want := make([]int, n)
	for i := range want {
		want[i] = i
	}

	got := make([]int, 0, n)
	done := make(chan struct{})
	argon.ThreadCreate(k, "consumer", func(any) {
		for i := 0; i < n; i++ {
			v, status := q.Receive(time.Second)
			require.Equal(t, argon.StatusSuccess, status)
			got = append(got, v)
		}
		close(done)
	}, nil, 4096, 2, true)

	argon.ThreadCreate(k, "producer", func(any) {
		for _, v := range want {
			require.Equal(t, argon.StatusSuccess, q.Send(v, time.Second))
		}
	}, nil, 4096, 3, true)

	waitOn(t, done, 2*time.Second)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("received sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueSendReceiveFIFO(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var q argon.Queue[int]
	argon.QueueCreate(k, &q, "q", 4)

	got := make(chan int, 3)
	argon.ThreadCreate(k, "consumer", func(any) {
		for i := 0; i < 3; i++ {
			v, status := q.Receive(argon.TimeoutNever)
			require.Equal(t, argon.StatusSuccess, status)
			got <- v
		}
	}, nil, 4096, 2, true)

	argon.ThreadCreate(k, "producer", func(any) {
		for i := 1; i <= 3; i++ {
			require.Equal(t, argon.StatusSuccess, q.Send(i, argon.TimeoutNever))
		}
	}, nil, 4096, 2, true)

	for i := 1; i <= 3; i++ {
		select {
		case v := <-got:
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("did not receive expected item")
		}
	}
}

func TestQueueSendBlocksWhenFullThenSucceedsAfterReceive(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var q argon.Queue[int]
	argon.QueueCreate(k, &q, "q", 1)
	require.Equal(t, argon.StatusSuccess, q.Send(1, 0))
	require.Equal(t, argon.StatusQueueFull, q.Send(2, 0))

	sent := make(chan argon.Status, 1)
	argon.ThreadCreate(k, "producer", func(any) {
		sent <- q.Send(2, time.Second)
	}, nil, 4096, 2, true)

	time.Sleep(10 * time.Millisecond)
	v, status := q.Receive(argon.TimeoutNever)
	require.Equal(t, argon.StatusSuccess, status)
	require.Equal(t, 1, v)

	select {
	case status := <-sent:
		require.Equal(t, argon.StatusSuccess, status)
	case <-time.After(time.Second):
		t.Fatal("blocked Send never completed")
	}
}

func TestQueueReceiveTimesOutWhenEmpty(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var q argon.Queue[int]
	argon.QueueCreate(k, &q, "q", 4)

	result := make(chan argon.Status, 1)
	argon.ThreadCreate(k, "receiver", func(any) {
		_, status := q.Receive(10 * time.Millisecond)
		result <- status
	}, nil, 4096, 2, true)

	select {
	case status := <-result:
		require.Equal(t, argon.StatusTimeout, status)
	case <-time.After(time.Second):
		t.Fatal("Receive never timed out")
	}
}

func TestQueueDeleteUnblocksSendersAndReceivers(t *testing.T) {
	k := argon.NewKernel()
	defer startKernel(k)()

	var q argon.Queue[int]
	argon.QueueCreate(k, &q, "q", 1)
	q.Send(1, 0) // fill it

	sendResult := make(chan argon.Status, 1)
	recvResult := make(chan argon.Status, 1)
	argon.ThreadCreate(k, "sender", func(any) {
		sendResult <- q.Send(2, argon.TimeoutNever)
	}, nil, 4096, 2, true)

	var q2 argon.Queue[int]
	argon.QueueCreate(k, &q2, "q2", 1)
	argon.ThreadCreate(k, "receiver", func(any) {
		_, status := q2.Receive(argon.TimeoutNever)
		recvResult <- status
	}, nil, 4096, 2, true)

	time.Sleep(10 * time.Millisecond)
	q.Delete()
	q2.Delete()

	require.Equal(t, argon.StatusObjectDeleted, <-sendResult)
	require.Equal(t, argon.StatusObjectDeleted, <-recvResult)
}
