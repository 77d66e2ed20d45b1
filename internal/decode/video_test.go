package decode

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/avtest"
	"github.com/zsiec/refract/internal/clock"
)

func newTestVideo(t *testing.T, backend *avtest.Backend, req *av.VideoFormatRequest) (*Video, *clock.Clock) {
	t.Helper()
	m := avtest.AVMedia(10)
	clk := clock.New()
	v, err := NewVideo(backend, m.Streams[0], clk.Derive(true), req, 1, 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		v.Close()
		clk.Close()
	})
	return v, clk
}

func feedVideo(t *testing.T, v *Video, ptsMs int64) {
	t.Helper()
	require.NoError(t, v.SubmitPacket(&av.Packet{StreamIndex: 0, PTS: ptsMs, Data: []byte{0}}))
	pts, ok := v.DecodeFrame()
	require.True(t, ok)
	require.InDelta(t, float64(ptsMs)/1000, pts, 0.001)
}

func TestVideoTextureOnTime(t *testing.T) {
	t.Parallel()

	v, clk := newTestVideo(t, avtest.NewBackend(), nil)
	feedVideo(t, v, 0)

	clk.AdjustBase(0.01)
	tex := avtest.NewMemTexture(avtest.VideoWidth, avtest.VideoHeight)
	var area image.Rectangle
	got, err := v.Texture(tex, &area)
	require.NoError(t, err)
	require.True(t, got)
	require.Equal(t, image.Rect(0, 0, avtest.VideoWidth, avtest.VideoHeight), area)
	require.Equal(t, 1, tex.Uploads)
	require.Equal(t, av.Rational{Num: 1, Den: 1}, v.SampleAspectRatio())
}

func TestVideoTextureTooEarlyKeepsFrame(t *testing.T) {
	t.Parallel()

	v, clk := newTestVideo(t, avtest.NewBackend(), nil)
	feedVideo(t, v, 500)

	clk.AdjustBase(0)
	tex := avtest.NewMemTexture(avtest.VideoWidth, avtest.VideoHeight)
	got, err := v.Texture(tex, nil)
	require.NoError(t, err)
	require.False(t, got, "frame half a second ahead must not deliver")

	// The held frame delivers once the clock reaches it.
	clk.AdjustBase(0.5)
	got, err = v.Texture(tex, nil)
	require.NoError(t, err)
	require.True(t, got)
}

func TestVideoTextureSkipsLateFrames(t *testing.T) {
	t.Parallel()

	v, clk := newTestVideo(t, avtest.NewBackend(), nil)
	feedVideo(t, v, 0)
	feedVideo(t, v, 40)
	feedVideo(t, v, 1000)

	clk.AdjustBase(1.0)
	tex := avtest.NewMemTexture(avtest.VideoWidth, avtest.VideoHeight)
	got, err := v.Texture(tex, nil)
	require.NoError(t, err)
	require.True(t, got)
	require.InDelta(t, 1.0, v.Position(), 0.05, "late frames are dropped, on-time frame delivered")
}

func TestVideoLockUnlockProtocol(t *testing.T) {
	t.Parallel()

	v, clk := newTestVideo(t, avtest.NewBackend(), nil)
	feedVideo(t, v, 0)
	clk.AdjustBase(0.01)

	planes, linesizes, ok, err := v.LockFrame(nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, planes, 1)
	require.Equal(t, avtest.VideoWidth*4, linesizes[0])

	// Other video operations are refused while locked.
	tex := avtest.NewMemTexture(avtest.VideoWidth, avtest.VideoHeight)
	_, err = v.Texture(tex, nil)
	require.ErrorIs(t, err, ErrLocked)
	_, _, _, err = v.LockFrame(nil)
	require.ErrorIs(t, err, ErrLocked)

	v.Unlock()
	_, err = v.Texture(tex, nil)
	require.NoError(t, err)
}

func TestVideoHardwareFallback(t *testing.T) {
	t.Parallel()

	// Hardware unavailable: the request falls back to software decode.
	v, _ := newTestVideo(t, avtest.NewBackend(), &av.VideoFormatRequest{HWDeviceTypes: 1})
	require.False(t, v.HardwareDecode())
	require.Equal(t, "rawtest", v.CodecInfo().Name)

	hw := avtest.NewBackend()
	hw.HardwareAvailable = true
	v2, _ := newTestVideo(t, hw, &av.VideoFormatRequest{HWDeviceTypes: 1})
	require.True(t, v2.HardwareDecode())
	require.Equal(t, "rawtest-hw", v2.CodecInfo().Name)
}
