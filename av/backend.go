package av

import (
	"image"
	"io"
)

// ProbeLimits bounds the container probe that populates the stream table.
// Zero values let the backend use its own defaults.
type ProbeLimits struct {
	ProbeSize         int64 // bytes to scan
	AnalyzeDurationUs int64 // microseconds to scan
	IOBufferSize      int   // scratch buffer for custom-IO reads
}

// Container is an opened media source: a stream table plus sequential
// packet reads and absolute seeks. Not safe for concurrent use; exactly
// one demuxer worker drives it at a time.
type Container interface {
	// Streams returns the probed stream table. The slice is immutable.
	Streams() []StreamInfo

	// Duration returns the container duration in seconds, or a negative
	// value if unknown.
	Duration() float64

	// BestStream returns the backend's preferred stream index for the
	// kind, or -1 if the container has none.
	BestStream(kind StreamKind) int

	// ReadPacket fills dst with the next packet in container order.
	// Returns io.EOF when the source is exhausted.
	ReadPacket(dst *Packet) error

	// Seek repositions the container near the target, given in the
	// container's microsecond scale.
	Seek(targetMicros int64) error

	Close() error
}

// AudioDecoder wraps one opened audio codec. SendPacket and ReceiveFrame
// follow the usual codec pump: send may refuse with ErrAgain while frames
// are pending, receive returns ErrAgain when it needs more input.
type AudioDecoder interface {
	SendPacket(pkt *Packet) error
	ReceiveFrame(dst *AudioFrame) error
	Flush()
	Info() CodecInfo
	Close() error
}

// VideoDecoder wraps one opened video codec, which may be a hardware
// decode path; in that case ReceiveFrame returns frames already
// transferred to system memory.
type VideoDecoder interface {
	SendPacket(pkt *Packet) error
	ReceiveFrame(dst *VideoFrame) error
	Flush()
	Info() CodecInfo
	Close() error
}

// SubtitleDecoder wraps one opened subtitle codec. Decode is synchronous:
// a packet either yields a complete event or nothing.
type SubtitleDecoder interface {
	// Decode parses pkt into dst. Returns false if the packet did not
	// complete an event.
	Decode(pkt *Packet, dst *Subtitle) (bool, error)
	Flush()
	Info() CodecInfo
	Close() error
}

// Resampler converts decoded audio frames into one fixed interleaved
// output format, configured at construction.
type Resampler interface {
	// Convert returns the frame's samples in the target format. The
	// returned slice is owned by the caller.
	Convert(frame *AudioFrame) ([]byte, error)
	Close() error
}

// Scaler converts decoded video frames into one fixed output pixel
// format, configured at construction. Implementations reconfigure
// internally when source dimensions or formats change between frames.
type Scaler interface {
	// Scale writes the converted picture into dst, reusing dst's planes
	// where possible.
	Scale(src, dst *VideoFrame) error
	Close() error
}

// FontHinting selects the glyph hinting mode of the script typesetter.
type FontHinting int

// Typesetter hinting modes.
const (
	FontHintingNone FontHinting = iota
	FontHintingLight
	FontHintingNormal
	FontHintingNative
)

// Typesetter renders script (SSA/ASS) subtitles. It retains persistent
// state: codec-private headers, processed event lines, and attached fonts.
// Only the subtitle decoder worker touches a typesetter instance.
type Typesetter interface {
	SetFrameSize(w, h int)
	SetHinting(h FontHinting)

	// AddFont registers an embedded font extracted from a container
	// attachment stream, keyed by its filename metadata.
	AddFont(name string, data []byte)

	// ProcessHeader feeds the stream's codec-private script headers.
	ProcessHeader(codecPrivate []byte)

	// ProcessLine feeds one event line from a decoded subtitle rect.
	ProcessLine(line string)

	// RenderFrame typesets the scene at the given time. It returns the
	// glyph list and whether the scene changed since the previous call;
	// an unchanged scene means the caller can skip compositing.
	RenderFrame(nowMs int64) (glyphs []Glyph, changed bool)

	Close() error
}

// Texture is a caller-owned GPU (or equivalent) surface the pipeline
// uploads pixels into. For RGBA textures a single plane is used.
type Texture interface {
	Size() (w, h int)

	// Update uploads pix into rect. Stride is the byte width of one row
	// in pix.
	Update(rect image.Rectangle, pix []byte, stride int) error
}

// PlanarTexture is implemented by textures that accept multi-plane
// uploads, e.g. YUV textures. Video delivery requires it when the output
// format is planar.
type PlanarTexture interface {
	Texture
	UpdatePlanes(rect image.Rectangle, planes [][]byte, linesizes []int) error
}

// Backend is the external demuxing/decoding library. One backend is
// registered process-wide at Init and shared by all sources and players.
type Backend interface {
	// OpenURL opens a container by URL or file path.
	OpenURL(url string, probe ProbeLimits) (Container, error)

	// OpenIO opens a container over caller-supplied I/O. The backend
	// reads through a scratch buffer of probe.IOBufferSize bytes.
	OpenIO(rs io.ReadSeeker, probe ProbeLimits) (Container, error)

	// NewAudioDecoder opens a decoder for the stream. threadCount 0 lets
	// the backend pick.
	NewAudioDecoder(stream StreamInfo, threadCount int) (AudioDecoder, error)

	// NewVideoDecoder opens a decoder for the stream, trying hardware
	// device types from the request mask first when nonzero. Failure to
	// acquire hardware is reported as an error distinct from setup
	// failure only by falling back: callers retry with a zero mask.
	NewVideoDecoder(stream StreamInfo, threadCount int, hwDeviceTypes uint) (VideoDecoder, error)

	NewSubtitleDecoder(stream StreamInfo) (SubtitleDecoder, error)

	// NewResampler builds a converter from the stream's native audio
	// layout to the target output format.
	NewResampler(stream StreamInfo, target AudioOutputFormat) (Resampler, error)

	// NewScaler builds a converter into the target pixel format.
	NewScaler(target PixelFormat) (Scaler, error)

	// NewTypesetter builds a script-subtitle renderer. Only called when
	// script subtitles were enabled at Init.
	NewTypesetter() (Typesetter, error)

	// PreferredPixelFormat maps a stream's native pixel format to the
	// backend's preferred caller-visible output format.
	PreferredPixelFormat(native PixelFormat) PixelFormat

	// PreferredSampleFormat maps a stream's native sample format to the
	// backend's preferred caller-visible output format.
	PreferredSampleFormat(native SampleFormat) SampleFormat

	// NetworkInit and NetworkDeinit bracket network protocol support,
	// called from Init/Quit when requested by flag.
	NetworkInit() error
	NetworkDeinit()
}
