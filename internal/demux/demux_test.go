package demux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/avtest"
)

func testCaps() [3]int { return [3]int{3, 32, 32} }

func readOne(t *testing.T, d *Demuxer, idx Index) *av.Packet {
	t.Helper()
	pkt := &av.Packet{}
	require.True(t, d.Buffer(idx).Read(pkt, time.Second), "expected a packet on queue %d", idx)
	return pkt
}

func TestStepRoutesSelectedStreams(t *testing.T) {
	t.Parallel()

	b := avtest.NewBackend()
	b.Register("file.ts", avtest.AVMedia(0.5))
	cont, err := b.OpenURL("file.ts", av.ProbeLimits{})
	require.NoError(t, err)

	d := New(cont, 0, 1, -1, testCaps(), nil)
	require.Nil(t, d.Buffer(IndexSubtitle), "unselected stream gets no queue")

	// Pump enough steps to fill both queues a little. The packets arrive
	// as V0 A0 V40 A64; a fourth video packet would block on the
	// three-slot video queue with no reader.
	for i := 0; i < 4; i++ {
		require.True(t, d.Step())
	}
	vl, vc, _ := d.BufferState(IndexVideo)
	al, ac, _ := d.BufferState(IndexAudio)
	require.Equal(t, 3, vc)
	require.Equal(t, 32, ac)
	require.Greater(t, vl, 0)
	require.Greater(t, al, 0)

	pkt := readOne(t, d, IndexVideo)
	require.Equal(t, 0, pkt.StreamIndex)
	require.Equal(t, av.TagNone, pkt.Tag)
}

func TestStepReportsEOF(t *testing.T) {
	t.Parallel()

	b := avtest.NewBackend()
	b.Register("a", avtest.AudioMedia(0.1))
	cont, err := b.OpenURL("a", av.ProbeLimits{})
	require.NoError(t, err)

	d := New(cont, -1, 0, -1, testCaps(), nil)
	steps := 0
	for d.Step() {
		steps++
		require.Less(t, steps, 1000, "demuxer never reached EOF")
	}
	require.Greater(t, steps, 0)
}

func TestSeekEmitsMarkers(t *testing.T) {
	t.Parallel()

	b := avtest.NewBackend()
	b.Register("av", avtest.AVMedia(10))
	cont, err := b.OpenURL("av", av.ProbeLimits{})
	require.NoError(t, err)

	d := New(cont, 0, 1, -1, testCaps(), nil)
	// Stay below the three-slot video queue: Step blocks when it is full.
	for i := 0; i < 4; i++ {
		require.True(t, d.Step())
	}

	require.NoError(t, d.Seek(5_000_000))

	// Stale packets are gone; the first packet on each queue is the
	// barrier marker.
	for _, idx := range []Index{IndexVideo, IndexAudio} {
		pkt := readOne(t, d, idx)
		require.Equal(t, av.TagSeekMarker, pkt.Tag, "queue %d", idx)
		require.Empty(t, pkt.Data)
	}

	// Demuxing resumes at the seek point.
	require.True(t, d.Step())
	require.True(t, d.Step())
	var got *av.Packet
	for _, idx := range []Index{IndexVideo, IndexAudio} {
		if d.Buffer(idx).Len() > 0 {
			got = readOne(t, d, idx)
			break
		}
	}
	require.NotNil(t, got)
	require.GreaterOrEqual(t, got.PTS, int64(5000))
}

func TestWorkerLifecycle(t *testing.T) {
	t.Parallel()

	b := avtest.NewBackend()
	b.Register("av", avtest.AVMedia(60))
	cont, err := b.OpenURL("av", av.ProbeLimits{})
	require.NoError(t, err)

	d := New(cont, 0, 1, -1, testCaps(), nil)
	w := NewWorker(d, nil)
	w.Start()

	// The worker fills the bounded queues and then blocks; it must still
	// respond to Stop.
	require.Eventually(t, func() bool {
		l, _, _ := d.BufferState(IndexVideo)
		return l == 3
	}, 2*time.Second, time.Millisecond)

	w.Stop()

	// Stop is idempotent and Seek after stop fails cleanly.
	w.Stop()
	require.ErrorIs(t, w.Seek(0), ErrStopped)
}

func TestWorkerSeekWhileBlocked(t *testing.T) {
	t.Parallel()

	b := avtest.NewBackend()
	b.Register("av", avtest.AVMedia(60))
	cont, err := b.OpenURL("av", av.ProbeLimits{})
	require.NoError(t, err)

	d := New(cont, 0, 1, -1, testCaps(), nil)
	w := NewWorker(d, nil)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		l, _, _ := d.BufferState(IndexVideo)
		return l == 3
	}, 2*time.Second, time.Millisecond)

	// The worker is blocked writing into the full video queue; the seek
	// must still complete.
	done := make(chan error, 1)
	go func() { done <- w.Seek(30_000_000) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("seek deadlocked against a blocked demuxer")
	}

	pkt := &av.Packet{}
	require.True(t, d.Buffer(IndexVideo).Read(pkt, time.Second))
	require.Equal(t, av.TagSeekMarker, pkt.Tag)
}

func TestWorkerEOFClearsOnSeek(t *testing.T) {
	t.Parallel()

	b := avtest.NewBackend()
	b.Register("a", avtest.AudioMedia(1.0))
	cont, err := b.OpenURL("a", av.ProbeLimits{})
	require.NoError(t, err)

	d := New(cont, -1, 0, -1, [3]int{3, 4, 4}, nil)
	w := NewWorker(d, nil)
	w.Start()
	defer w.Stop()

	// Drain until the short file runs out.
	pkt := &av.Packet{}
	require.Eventually(t, func() bool {
		for d.Buffer(IndexAudio).Read(pkt, 0) {
		}
		return w.EOF()
	}, 2*time.Second, time.Millisecond)

	// The seek rewinds the container; with more packets pending than the
	// queue holds, the worker blocks mid-file and EOF stays clear.
	require.NoError(t, w.Seek(0))
	require.Eventually(t, func() bool { return !w.EOF() }, 2*time.Second, time.Millisecond)
}
