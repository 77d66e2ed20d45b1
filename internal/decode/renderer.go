package decode

import (
	"image"

	"github.com/zsiec/refract/av"
)

// Mode selects how a subtitle stream is rendered.
type Mode int

// Subtitle rendering modes.
const (
	// ModeDisabled marks codecs the pipeline cannot render.
	ModeDisabled Mode = iota

	// ModeBitmap renders paletted bitmap subtitles (DVD, DVB, PGS, XSUB).
	// Stateless: every event carries its own pixels.
	ModeBitmap

	// ModeScript renders markup subtitles (SSA/ASS) through the external
	// typesetter, which keeps persistent script state.
	ModeScript
)

// ModeForCodec maps a subtitle codec family to its rendering mode.
func ModeForCodec(c av.CodecID) Mode {
	switch c {
	case av.CodecSSA, av.CodecASS:
		return ModeScript
	case av.CodecDVDSubtitle, av.CodecDVBSubtitle, av.CodecHDMVPGS, av.CodecXSUB:
		return ModeBitmap
	default:
		return ModeDisabled
	}
}

// surface is one timed subtitle output: either pixels positioned in
// video (bitmap) or screen (script) coordinates, or a bare clear event
// that wipes everything currently visible.
type surface struct {
	ptsStart float64

	// ptsEnd below zero means the surface is sticky: visible until the
	// next event arrives on the stream.
	ptsEnd float64

	x, y  int
	img   *image.RGBA
	clear bool

	// first marks the leading surface of one decoded event. Replacement
	// semantics (sticky clears, script scene swaps) run once per event,
	// not once per rect, so only the leading surface triggers them.
	first bool
}

type surfaceOps struct{}

func (surfaceOps) Alloc() *surface  { return &surface{} }
func (surfaceOps) Unref(s *surface) { *s = surface{} }

func (surfaceOps) Move(dst, src *surface) {
	*dst = *src
	*src = surface{}
}

func (surfaceOps) Size(s *surface) int {
	if s.img == nil {
		return 0
	}
	return len(s.img.Pix)
}

// renderer turns decoded subtitle events into surfaces on the output
// queue. Implementations run on the subtitle worker goroutine only.
type renderer interface {
	// Render emits zero or more surfaces for the event. May block on a
	// full output queue.
	Render(sub *av.Subtitle)

	// SetScreenSize propagates a screen resize; only the script path
	// re-renders at a new resolution.
	SetScreenSize(w, h int)

	Close() error
}

// displayWindow converts an event's timing into absolute seconds.
// A negative end marks a sticky event.
func displayWindow(sub *av.Subtitle, timeBase float64) (start, end float64) {
	pts := float64(sub.PTS) * timeBase
	start = pts + float64(sub.StartDisplayMs)/1000.0
	if sub.EndDisplayMs < 0 {
		return start, -1
	}
	return start, pts + float64(sub.EndDisplayMs)/1000.0
}
