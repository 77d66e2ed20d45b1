package decode

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/clock"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/ring"
)

// stubDecoder records skeleton interactions for thread tests.
type stubDecoder struct {
	mu        sync.Mutex
	clk       *clock.Clock
	submitted []int64
	flushes   int
	rejectN   int // reject this many submissions with ErrAgain first
	pts       []float64
	decoded   int
}

func newStubDecoder() *stubDecoder {
	return &stubDecoder{clk: clock.New()}
}

func (d *stubDecoder) SubmitPacket(pkt *av.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rejectN > 0 {
		d.rejectN--
		return av.ErrAgain
	}
	d.submitted = append(d.submitted, pkt.PTS)
	return nil
}

func (d *stubDecoder) DecodeFrame() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decoded >= len(d.pts) {
		return 0, false
	}
	pts := d.pts[d.decoded]
	d.decoded++
	return pts, true
}

func (d *stubDecoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
}

func (d *stubDecoder) Signal()                 {}
func (d *stubDecoder) Clock() *clock.Clock     { return d.clk }
func (d *stubDecoder) OutputState() (int, int) { return 0, 1 }
func (d *stubDecoder) StreamIndex() int        { return 0 }
func (d *stubDecoder) CodecInfo() av.CodecInfo { return av.CodecInfo{Name: "stub"} }
func (d *stubDecoder) Close() error            { return nil }

func (d *stubDecoder) submittedPTS() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.submitted...)
}

func (d *stubDecoder) flushCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

func newInput() *ring.Buffer[*av.Packet] {
	return ring.New[*av.Packet](8, demux.PacketOps{})
}

func TestThreadSubmitsPackets(t *testing.T) {
	t.Parallel()

	input := newInput()
	dec := newStubDecoder()
	defer dec.clk.Close()

	th := NewThread(input, dec, "stub-worker", nil)
	th.Start()
	defer th.Stop()

	for i := int64(0); i < 4; i++ {
		require.True(t, input.Write(&av.Packet{StreamIndex: 0, PTS: i, Data: []byte{1}}))
	}
	require.Eventually(t, func() bool {
		return len(dec.submittedPTS()) == 4
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, []int64{0, 1, 2, 3}, dec.submittedPTS())
}

func TestThreadRetriesRejectedPacket(t *testing.T) {
	t.Parallel()

	input := newInput()
	dec := newStubDecoder()
	dec.rejectN = 3
	defer dec.clk.Close()

	th := NewThread(input, dec, "stub-worker", nil)
	th.Start()
	defer th.Stop()

	require.True(t, input.Write(&av.Packet{StreamIndex: 0, PTS: 7, Data: []byte{1}}))

	// The packet is re-offered until the codec takes it; it must be
	// delivered exactly once.
	require.Eventually(t, func() bool {
		return len(dec.submittedPTS()) == 1
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, []int64{7}, dec.submittedPTS())
}

func TestThreadSeekMarkerFlushesAndReanchors(t *testing.T) {
	t.Parallel()

	input := newInput()
	dec := newStubDecoder()
	dec.pts = []float64{42.5}
	defer dec.clk.Close()

	th := NewThread(input, dec, "stub-worker", nil)
	th.Start()
	defer th.Stop()

	require.True(t, input.Write(&av.Packet{StreamIndex: 0, Tag: av.TagSeekMarker}))
	require.True(t, input.Write(&av.Packet{StreamIndex: 0, PTS: 42500, Data: []byte{1}}))

	require.Eventually(t, func() bool {
		return dec.flushCount() == 1 && len(dec.submittedPTS()) == 1
	}, 2*time.Second, time.Millisecond)

	// The first decoded frame after the marker re-anchors the clock.
	require.Eventually(t, func() bool {
		e := dec.clk.Elapsed()
		return e > 42.4 && e < 42.7
	}, 2*time.Second, time.Millisecond)
}

func TestThreadStopUnblocksPromptly(t *testing.T) {
	t.Parallel()

	input := newInput()
	dec := newStubDecoder()
	defer dec.clk.Close()

	th := NewThread(input, dec, "stub-worker", nil)
	th.Start()

	done := make(chan struct{})
	go func() {
		th.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("thread did not stop")
	}
}
