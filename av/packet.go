package av

// ControlTag marks a packet as carrying pipeline control rather than
// stream data.
type ControlTag uint8

// Control tags. A seek marker is a zero-length packet the demuxer injects
// after a container seek; decoders flush their codec state and re-anchor
// the shared clock when they consume one.
const (
	TagNone ControlTag = iota
	TagSeekMarker
)

// Packet is a container-level blob routed to a decoder by stream index.
// Packets move between ring-buffer slots and scratch objects; ownership of
// Data follows the move.
type Packet struct {
	StreamIndex int
	Data        []byte
	PTS         int64
	DTS         int64
	Tag         ControlTag
}

// MoveTo transfers the packet's contents into dst and resets the receiver.
func (p *Packet) MoveTo(dst *Packet) {
	*dst = *p
	p.Reset()
}

// Reset clears the packet for reuse, dropping the data reference.
func (p *Packet) Reset() {
	*p = Packet{StreamIndex: -1}
}

// VideoFrame is a decoded, possibly format-converted picture. Data holds
// one slice per plane; Linesize holds the per-plane row strides in bytes.
// Packed formats use a single plane.
type VideoFrame struct {
	Data     [][]byte
	Linesize []int
	Width    int
	Height   int
	Format   PixelFormat

	// PTS is the best-effort presentation timestamp in stream time-base
	// units. Presentation order may differ from decode order for B-frame
	// video; the sync window at delivery absorbs that.
	PTS               int64
	SampleAspectRatio Rational
}

// MoveTo transfers the frame's contents into dst and resets the receiver.
func (f *VideoFrame) MoveTo(dst *VideoFrame) {
	*dst = *f
	f.Reset()
}

// Reset clears the frame for reuse, dropping plane references.
func (f *VideoFrame) Reset() {
	*f = VideoFrame{}
}

// Bytes returns the total payload size of the frame's planes.
func (f *VideoFrame) Bytes() int {
	n := 0
	for _, p := range f.Data {
		n += len(p)
	}
	return n
}

// AudioFrame is a decoded block of audio samples in the decoder's native
// layout, before resampling. Planar formats use one slice per channel.
type AudioFrame struct {
	Data       [][]byte
	Samples    int
	SampleRate int
	Channels   int
	Format     SampleFormat
	PTS        int64
}

// Reset clears the frame for reuse.
func (f *AudioFrame) Reset() {
	*f = AudioFrame{}
}

// SubtitleRect is one rectangle of a decoded subtitle event: either a
// paletted bitmap or a script markup line, never both.
type SubtitleRect struct {
	X int
	Y int
	W int
	H int

	// Pixels holds 8-bit palette indexes, Stride bytes per row. Nil for
	// script rects.
	Pixels  []byte
	Stride  int
	Palette []uint32 // RGBA, one entry per palette index

	// Text is the raw script event line for SSA/ASS rects.
	Text string
}

// Subtitle is one decoded subtitle event.
type Subtitle struct {
	// PTS is the event timestamp in stream time-base units.
	PTS int64

	// StartDisplayMs and EndDisplayMs offset the display window from the
	// event pts, in milliseconds. A negative EndDisplayMs means the event
	// has no end: it stays visible until the next event on the stream.
	StartDisplayMs int64
	EndDisplayMs   int64

	Rects []SubtitleRect
}

// Glyph is one rendered script-subtitle bitmap from the typesetter: an
// 8-bit alpha mask plus a fill color, positioned in frame coordinates.
type Glyph struct {
	Bitmap []byte
	Stride int
	W      int
	H      int
	DstX   int
	DstY   int

	// Color is the glyph fill as 0xRRGGBBAA, where AA is transparency
	// (0 = opaque) as script renderers conventionally encode it.
	Color uint32
}
