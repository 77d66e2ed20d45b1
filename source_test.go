package refract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/avtest"
)

func openTestSource(t *testing.T, name string, m *avtest.Media) *Source {
	t.Helper()
	testBackend.Register(name, m)
	src, err := NewSourceFromURL(name)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestSourceStreamTable(t *testing.T) {
	m := avtest.AVMedia(1)
	avtest.AddBitmapSubtitles(m, []avtest.SubtitleEvent{{StartSec: 0.1, EndSec: 0.2}})
	src := openTestSource(t, "table.mkv", m)

	require.Equal(t, 3, src.StreamCount())
	require.InDelta(t, 1.0, src.Duration(), 0.001)

	info, err := src.StreamInfo(0)
	require.NoError(t, err)
	require.Equal(t, av.KindVideo, info.Kind)

	_, err = src.StreamInfo(7)
	require.ErrorIs(t, err, ErrInvalidStream)
	_, err = src.StreamInfo(-1)
	require.ErrorIs(t, err, ErrInvalidStream)
}

func TestSourceBestStream(t *testing.T) {
	m := avtest.AVMedia(1)
	avtest.AddBitmapSubtitles(m, nil)
	src := openTestSource(t, "best.mkv", m)

	require.Equal(t, 0, src.BestStream(av.KindVideo))
	require.Equal(t, 1, src.BestStream(av.KindAudio))
	require.Equal(t, 2, src.BestStream(av.KindSubtitle))
	require.Equal(t, -1, src.BestStream(av.KindData))
}

func TestSourceBestStreamSkipsUnsupportedSubtitles(t *testing.T) {
	m := avtest.AVMedia(1)
	m.Streams = append(m.Streams, av.StreamInfo{
		Index: 2, Kind: av.KindSubtitle, Codec: av.CodecUnknown, CodecName: "mystery",
	})
	m.Streams = append(m.Streams, av.StreamInfo{
		Index: 3, Kind: av.KindSubtitle, Codec: av.CodecASS, CodecName: "ass",
	})
	src := openTestSource(t, "skip.mkv", m)

	require.Equal(t, 3, src.BestStream(av.KindSubtitle), "unsupported codec is skipped")
}

func TestSourceStreamListAndNext(t *testing.T) {
	m := avtest.AVMedia(1)
	avtest.AddBitmapSubtitles(m, nil)
	avtest.AddBitmapSubtitles(m, nil)
	src := openTestSource(t, "list.mkv", m)

	buf := make([]int, 8)
	require.Equal(t, 2, src.StreamList(av.KindSubtitle, buf))
	require.Equal(t, []int{2, 3}, buf[:2])

	require.Equal(t, 3, src.NextStream(av.KindSubtitle, 2, false))
	require.Equal(t, -1, src.NextStream(av.KindSubtitle, 3, false))
	require.Equal(t, 2, src.NextStream(av.KindSubtitle, 3, true), "wrap returns the first stream")
	require.Equal(t, 2, src.NextStream(av.KindSubtitle, -1, false))
}

func TestSourceFromReader(t *testing.T) {
	testBackend.IOMedia = avtest.AudioMedia(0.5)
	defer func() { testBackend.IOMedia = nil }()

	src, err := NewSourceFromReader(strings.NewReader("fake container bytes"))
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, 1, src.StreamCount())
}

func TestSourceFromCustomCallbacks(t *testing.T) {
	testBackend.IOMedia = avtest.AudioMedia(0.5)
	defer func() { testBackend.IOMedia = nil }()

	r := strings.NewReader("fake container bytes")
	src, err := NewSourceFromCustom(r.Read, nil)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, 1, src.StreamCount())

	_, err = NewSourceFromCustom(nil, nil)
	require.Error(t, err)
}

func TestSourceSingleBorrow(t *testing.T) {
	src := openTestSource(t, "borrow.wav", avtest.AudioMedia(1))

	p, err := NewPlayer(src, PlayerConfig{VideoStream: -1, AudioStream: 0, SubtitleStream: -1})
	require.NoError(t, err)
	defer p.Close()

	_, err = NewPlayer(src, PlayerConfig{VideoStream: -1, AudioStream: 0, SubtitleStream: -1})
	require.ErrorIs(t, err, ErrSourceBusy)

	p.Close()
	p2, err := NewPlayer(src, PlayerConfig{VideoStream: -1, AudioStream: 0, SubtitleStream: -1})
	require.NoError(t, err, "source is released when its player closes")
	p2.Close()
}
