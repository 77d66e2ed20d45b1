package decode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/avtest"
	"github.com/zsiec/refract/internal/clock"
)

func newTestAudio(t *testing.T) (*Audio, *clock.Clock) {
	t.Helper()
	backend := avtest.NewBackend()
	m := avtest.AudioMedia(10)
	clk := clock.New()
	a, err := NewAudio(backend, m.Streams[0], clk.Derive(true), nil, 1, 32, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		clk.Close()
	})
	return a, clk
}

// feed pushes one packet's worth of audio at the pts (in ms) through the
// decoder into the output queue.
func feed(t *testing.T, a *Audio, ptsMs int64) {
	t.Helper()
	require.NoError(t, a.SubmitPacket(&av.Packet{StreamIndex: 0, PTS: ptsMs, Data: []byte{0}}))
	pts, ok := a.DecodeFrame()
	require.True(t, ok)
	require.InDelta(t, float64(ptsMs)/1000, pts, 0.001)
}

func TestAudioOutputFormatDefaults(t *testing.T) {
	t.Parallel()

	a, _ := newTestAudio(t)
	out := a.OutputFormat()
	require.Equal(t, avtest.AudioSampleRate, out.SampleRate)
	require.Equal(t, avtest.AudioChannels, out.Channels)
	require.Equal(t, av.SampleS16, out.Format)
	require.Equal(t, avtest.AudioSampleRate*2, out.BytesPerSecond())
}

func TestAudioReadDataOnTime(t *testing.T) {
	t.Parallel()

	a, clk := newTestAudio(t)
	feed(t, a, 0)

	clk.AdjustBase(0.01) // elapsed ≈ 10 ms, segment pts 0 is in window
	buf := make([]byte, 4096)
	n := a.ReadData(buf)
	require.Greater(t, n, 0)
	require.LessOrEqual(t, n, avtest.SamplesPerPacket*2)
}

func TestAudioReadDataTooEarly(t *testing.T) {
	t.Parallel()

	a, clk := newTestAudio(t)
	feed(t, a, 1000)

	clk.AdjustBase(0) // segment is a second ahead of the clock
	buf := make([]byte, 4096)
	require.Equal(t, 0, a.ReadData(buf))

	// Once the clock catches up the same segment is delivered.
	clk.AdjustBase(1.0)
	require.Greater(t, a.ReadData(buf), 0)
}

func TestAudioReadDataSkipsLate(t *testing.T) {
	t.Parallel()

	a, clk := newTestAudio(t)
	feed(t, a, 0)
	feed(t, a, 64)
	feed(t, a, 2000)

	// The clock is at 2 s: the first two segments are hopelessly late
	// and must be skipped, the third delivered.
	clk.AdjustBase(2.0)
	buf := make([]byte, 4096)
	n := a.ReadData(buf)
	require.Greater(t, n, 0)
	require.InDelta(t, 2.0, a.Position(), 0.2)
}

func TestAudioPartialReadsAdvancePTS(t *testing.T) {
	t.Parallel()

	a, clk := newTestAudio(t)
	feed(t, a, 0)
	clk.AdjustBase(0.01)

	// Read the 1024-byte segment in four parts; the reported position
	// advances with each chunk.
	buf := make([]byte, 256)
	var last float64
	for i := 0; i < 4; i++ {
		require.Equal(t, 256, a.ReadData(buf))
		pos := a.Position()
		require.Greater(t, pos, last)
		last = pos
	}
	require.InDelta(t, float64(avtest.SamplesPerPacket)/avtest.AudioSampleRate, last, 0.001)
}

func TestAudioFlushDropsEverything(t *testing.T) {
	t.Parallel()

	a, clk := newTestAudio(t)
	feed(t, a, 0)
	feed(t, a, 64)

	a.Flush()
	l, c := a.OutputState()
	require.Equal(t, 0, l)
	require.Equal(t, 32, c)
	require.True(t, a.Drained())

	clk.AdjustBase(0.01)
	require.Equal(t, 0, a.ReadData(make([]byte, 64)))
}
