package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// item is a minimal move-only payload for buffer tests.
type item struct {
	val  int
	data []byte
}

type itemOps struct {
	mu      sync.Mutex
	unrefed int
}

func (o *itemOps) Alloc() *item { return &item{} }

func (o *itemOps) Unref(it *item) {
	if it.data != nil {
		o.mu.Lock()
		o.unrefed++
		o.mu.Unlock()
	}
	*it = item{}
}

func (o *itemOps) Move(dst, src *item) {
	*dst = *src
	*src = item{}
}

func (o *itemOps) Size(it *item) int { return len(it.data) }

func (o *itemOps) unrefCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unrefed
}

func newItem(val int) *item {
	return &item{val: val, data: make([]byte, 8)}
}

func TestBufferFIFO(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{1, 2, 3, 7, 32} {
		b := New[*item](capacity, &itemOps{})
		scratch := &item{}

		// Fill, drain, refill across the wrap point.
		for round := 0; round < 3; round++ {
			for i := 0; i < capacity; i++ {
				require.True(t, b.Write(newItem(round*100+i)), "capacity %d", capacity)
			}
			require.Equal(t, capacity, b.Len())
			require.True(t, b.IsFull())

			for i := 0; i < capacity; i++ {
				require.True(t, b.Read(scratch, 0))
				assert.Equal(t, round*100+i, scratch.val, "capacity %d", capacity)
			}
			require.Equal(t, 0, b.Len())
		}
	}
}

func TestBufferLenTracksItems(t *testing.T) {
	t.Parallel()

	b := New[*item](4, &itemOps{})
	scratch := &item{}

	require.Equal(t, 0, b.Len())
	require.Equal(t, 4, b.Cap())

	b.Write(newItem(1))
	b.Write(newItem(2))
	require.Equal(t, 2, b.Len())
	require.Equal(t, 16, b.Bytes())

	require.True(t, b.Read(scratch, 0))
	require.Equal(t, 1, b.Len())
	require.Equal(t, 8, b.Bytes())
}

func TestBufferReadTimeout(t *testing.T) {
	t.Parallel()

	b := New[*item](2, &itemOps{})
	scratch := &item{}

	// Non-blocking read on empty fails immediately.
	require.False(t, b.Read(scratch, 0))

	start := time.Now()
	require.False(t, b.Read(scratch, 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestBufferBlockedReadWakesOnWrite(t *testing.T) {
	t.Parallel()

	b := New[*item](2, &itemOps{})
	got := make(chan int, 1)

	go func() {
		scratch := &item{}
		if b.Read(scratch, 5*time.Second) {
			got <- scratch.val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, b.Write(newItem(42)))

	select {
	case v := <-got:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("blocked read did not wake on write")
	}
}

func TestBufferBlockedWriteWakesOnSignal(t *testing.T) {
	t.Parallel()

	b := New[*item](1, &itemOps{})
	require.True(t, b.Write(newItem(1)))

	done := make(chan bool, 1)
	go func() {
		done <- b.Write(newItem(2))
	}()

	time.Sleep(10 * time.Millisecond)
	b.Signal()

	select {
	case ok := <-done:
		require.False(t, ok, "signaled write should fail, not enqueue")
	case <-time.After(time.Second):
		t.Fatal("blocked write did not wake on signal")
	}
}

func TestBufferBlockedReadWakesOnSignal(t *testing.T) {
	t.Parallel()

	b := New[*item](1, &itemOps{})
	done := make(chan bool, 1)
	go func() {
		done <- b.Read(&item{}, 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Signal()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocked read did not wake on signal")
	}
}

func TestBufferFlushReleasesPayloads(t *testing.T) {
	t.Parallel()

	ops := &itemOps{}
	b := New[*item](8, ops)
	for i := 0; i < 5; i++ {
		require.True(t, b.Write(newItem(i)))
	}

	b.Flush()
	require.Equal(t, 0, b.Len())
	require.Equal(t, 0, b.Bytes())
	require.Equal(t, 5, ops.unrefCount(), "every queued payload released exactly once")

	// Buffer stays usable after a flush.
	require.True(t, b.Write(newItem(9)))
	scratch := &item{}
	require.True(t, b.Read(scratch, 0))
	require.Equal(t, 9, scratch.val)
}

func TestBufferFlushUnblocksWriter(t *testing.T) {
	t.Parallel()

	b := New[*item](1, &itemOps{})
	require.True(t, b.Write(newItem(1)))

	done := make(chan bool, 1)
	go func() {
		done <- b.Write(newItem(2))
	}()

	time.Sleep(10 * time.Millisecond)
	b.Flush()

	select {
	case ok := <-done:
		require.True(t, ok, "writer should complete once flush makes room")
	case <-time.After(time.Second):
		t.Fatal("blocked write did not wake on flush")
	}
}

func TestBufferBeginFinishRead(t *testing.T) {
	t.Parallel()

	b := New[*item](2, &itemOps{})
	require.True(t, b.Write(newItem(7)))
	require.True(t, b.Write(newItem(8)))

	scratch := &item{}
	require.True(t, b.BeginRead(scratch, 0))
	require.Equal(t, 7, scratch.val)
	require.Equal(t, 2, b.Len(), "slot not released before FinishRead")

	b.FinishRead()
	require.Equal(t, 1, b.Len())

	require.True(t, b.Read(scratch, 0))
	require.Equal(t, 8, scratch.val)
}

func TestBufferCancelRead(t *testing.T) {
	t.Parallel()

	b := New[*item](2, &itemOps{})
	require.True(t, b.Write(newItem(7)))

	scratch := &item{}
	require.True(t, b.BeginRead(scratch, 0))
	require.Equal(t, 7, scratch.val)
	b.CancelRead(scratch)

	// The payload is back at the head of the queue.
	require.True(t, b.Read(scratch, 0))
	require.Equal(t, 7, scratch.val)
	require.Equal(t, 0, b.Len())
}

func TestBufferConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const n = 500
	b := New[*item](3, &itemOps{})

	go func() {
		for i := 0; i < n; i++ {
			b.Write(newItem(i))
		}
	}()

	scratch := &item{}
	for i := 0; i < n; i++ {
		require.True(t, b.Read(scratch, 5*time.Second))
		require.Equal(t, i, scratch.val, "FIFO order must hold under concurrency")
	}
}
