package refract

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/config"
)

// ioBufferSize is the scratch buffer handed to the backend for custom-IO
// reads.
const ioBufferSize = 32 * 1024

// supportedSubtitleCodecs is the codec set the subtitle best-stream scan
// accepts. Broader than the renderable set: text codecs are selectable
// even though rendering disables them, matching the container-level view.
var supportedSubtitleCodecs = map[av.CodecID]bool{
	av.CodecText:        true,
	av.CodecHDMVText:    true,
	av.CodecSRT:         true,
	av.CodecSubRip:      true,
	av.CodecSSA:         true,
	av.CodecASS:         true,
	av.CodecDVDSubtitle: true,
	av.CodecDVBSubtitle: true,
	av.CodecHDMVPGS:     true,
	av.CodecXSUB:        true,
}

// Source is an opened media container with its probed stream table. A
// source is borrowed by at most one player at a time and must outlive it;
// closing the player does not close the source.
type Source struct {
	c        av.Container
	borrowed atomic.Bool
	closed   atomic.Bool
}

func probeLimits() av.ProbeLimits {
	return av.ProbeLimits{
		ProbeSize:         config.GetInt64(config.KeyProbeSize),
		AnalyzeDurationUs: config.GetInt64(config.KeyAnalyzeDuration),
		IOBufferSize:      ioBufferSize,
	}
}

// NewSourceFromURL opens a container by URL or file path and probes its
// streams.
func NewSourceFromURL(url string) (*Source, error) {
	backend, _, err := backendHandle()
	if err != nil {
		return nil, err
	}
	c, err := backend.OpenURL(url, probeLimits())
	if err != nil {
		return nil, setupErr("source", err)
	}
	return &Source{c: c}, nil
}

// NewSourceFromReader opens a container over caller-supplied I/O and
// probes its streams. The reader must stay valid for the source's
// lifetime.
func NewSourceFromReader(rs io.ReadSeeker) (*Source, error) {
	backend, _, err := backendHandle()
	if err != nil {
		return nil, err
	}
	c, err := backend.OpenIO(rs, probeLimits())
	if err != nil {
		return nil, setupErr("source", err)
	}
	return &Source{c: c}, nil
}

// callbackReadSeeker adapts a pair of callbacks to io.ReadSeeker.
type callbackReadSeeker struct {
	read func(p []byte) (int, error)
	seek func(offset int64, whence int) (int64, error)
}

func (c *callbackReadSeeker) Read(p []byte) (int, error) {
	return c.read(p)
}

func (c *callbackReadSeeker) Seek(offset int64, whence int) (int64, error) {
	if c.seek == nil {
		return 0, errors.ErrUnsupported
	}
	return c.seek(offset, whence)
}

// NewSourceFromCustom opens a container over raw read and seek callbacks.
// seek may be nil for unseekable inputs; seeking such a source fails.
func NewSourceFromCustom(
	read func(p []byte) (int, error),
	seek func(offset int64, whence int) (int64, error),
) (*Source, error) {
	if read == nil {
		return nil, setupErr("source", ErrInvalidStream)
	}
	return NewSourceFromReader(&callbackReadSeeker{read: read, seek: seek})
}

// Close releases the container. The source must not be borrowed by a
// player.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.c.Close()
}

// StreamCount returns the number of streams in the container.
func (s *Source) StreamCount() int {
	return len(s.c.Streams())
}

// StreamInfo returns the probed description of stream i.
func (s *Source) StreamInfo(i int) (av.StreamInfo, error) {
	streams := s.c.Streams()
	if i < 0 || i >= len(streams) {
		return av.StreamInfo{}, ErrInvalidStream
	}
	return streams[i], nil
}

// Duration returns the container duration in seconds, or a negative
// value when unknown.
func (s *Source) Duration() float64 {
	return s.c.Duration()
}

// BestStream returns the preferred stream index for a kind, or -1. Video
// and audio defer to the backend's heuristic; subtitles scan for the
// first stream with a supported codec.
func (s *Source) BestStream(kind av.StreamKind) int {
	if kind != av.KindSubtitle {
		return s.c.BestStream(kind)
	}
	for _, st := range s.c.Streams() {
		if st.Kind == av.KindSubtitle && supportedSubtitleCodecs[st.Codec] {
			return st.Index
		}
	}
	return -1
}

// StreamList fills buf with the indexes of all streams of the kind and
// returns how many were written.
func (s *Source) StreamList(kind av.StreamKind, buf []int) int {
	n := 0
	for _, st := range s.c.Streams() {
		if st.Kind != kind {
			continue
		}
		if n >= len(buf) {
			break
		}
		buf[n] = st.Index
		n++
	}
	return n
}

// NextStream returns the next stream of the kind after index from,
// optionally wrapping to the first one. Returns -1 when there is none.
// A negative from starts the scan at the beginning.
func (s *Source) NextStream(kind av.StreamKind, from int, wrap bool) int {
	first := -1
	for _, st := range s.c.Streams() {
		if st.Kind != kind {
			continue
		}
		if first < 0 {
			first = st.Index
		}
		if st.Index > from {
			return st.Index
		}
	}
	if wrap {
		return first
	}
	return -1
}

// borrow marks the source as owned by a player.
func (s *Source) borrow() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.borrowed.CompareAndSwap(false, true) {
		return ErrSourceBusy
	}
	return nil
}

// release returns the source after its player closes.
func (s *Source) release() {
	s.borrowed.Store(false)
}
