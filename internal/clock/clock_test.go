package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdjustBaseAnchorsElapsed(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Close()

	c.AdjustBase(12.5)
	require.InDelta(t, 12.5, c.Elapsed(), 0.001)
}

func TestSetBaseRestartsElapsed(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Close()

	c.AdjustBase(100)
	c.SetBase()
	require.InDelta(t, 0, c.Elapsed(), 0.001)
}

func TestInitBaseIsIdempotent(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Close()

	c.AdjustBase(5)
	c.InitBase() // already initialized, must not move the base
	require.InDelta(t, 5, c.Elapsed(), 0.001)

	c.Reset()
	c.InitBase()
	require.InDelta(t, 0, c.Elapsed(), 0.001)
}

func TestAddBaseSwallowsPause(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Close()

	// Simulate: played to t=3, paused for 5 wall seconds, resumed. The
	// pause is emulated by anchoring elapsed where the wall clock would
	// have drifted to, then resuming with AddBase.
	pause := 5.0
	c.AdjustBase(3 + pause)
	c.AddBase(pause)

	require.InDelta(t, 3, c.Elapsed(), 0.01, "elapsed advances by pre-pause time, not pause duration")
}

func TestSecondaryHandleSharesBase(t *testing.T) {
	t.Parallel()

	primary := New()
	defer primary.Close()
	reader := primary.Derive(false)
	defer reader.Close()
	writer := primary.Derive(true)
	defer writer.Close()

	primary.AdjustBase(7)
	require.InDelta(t, 7, reader.Elapsed(), 0.001)

	// Read-only handles cannot move the base.
	reader.AdjustBase(99)
	require.InDelta(t, 7, primary.Elapsed(), 0.001)

	// Writable secondaries can.
	writer.AdjustBase(20)
	require.InDelta(t, 20, primary.Elapsed(), 0.001)

	require.True(t, primary.Primary())
	require.False(t, reader.Primary())
}

func TestCloseReleasesRecordOnce(t *testing.T) {
	t.Parallel()

	primary := New()
	rec := primary.ref

	handles := []*Clock{primary}
	for i := 0; i < 4; i++ {
		handles = append(handles, primary.Derive(i%2 == 0))
	}

	for i, h := range handles {
		require.False(t, rec.released.Load(), "record released before handle %d closed", i)
		h.Close()
	}
	require.True(t, rec.released.Load())
	require.Equal(t, int32(0), rec.refs.Load())

	// Double close is harmless.
	handles[0].Close()
	require.Equal(t, int32(0), rec.refs.Load())
}

func TestElapsedTracksWallTime(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Close()

	c.SetBase()
	time.Sleep(30 * time.Millisecond)
	require.InDelta(t, 0.03, c.Elapsed(), 0.02)
}
