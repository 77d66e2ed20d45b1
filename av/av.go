// Package av defines the wire types and collaborator interfaces that sit
// between the refract playback pipeline and the host's demuxing/decoding
// library. The pipeline consumes these as black boxes: a Container yields
// packets, typed decoders yield frames and subtitle events, and converters
// handle pixel/sample format work. Accepting interfaces here decouples the
// pipeline from any concrete media backend, making it testable with stubs.
package av

import "errors"

// ErrAgain is returned by decoders when they temporarily cannot accept a
// packet or have no frame ready. Callers retry after draining or feeding
// the other side of the codec.
var ErrAgain = errors.New("av: resource temporarily unavailable")

// StreamKind identifies the media type of a container stream.
type StreamKind int

// Stream kinds, matching the container-level taxonomy.
const (
	KindUnknown StreamKind = iota
	KindVideo
	KindAudio
	KindData
	KindSubtitle
	KindAttachment
)

func (k StreamKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	case KindSubtitle:
		return "subtitle"
	case KindAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// CodecID identifies a codec well enough for the pipeline to route streams.
// Only subtitle codecs need individual identities here: the subtitle decoder
// picks its rendering mode from the codec family, while audio and video
// codecs are opaque to the pipeline.
type CodecID int

// Codec identifiers. CodecOther covers every audio/video codec; the
// pipeline never branches on those.
const (
	CodecUnknown CodecID = iota
	CodecOther
	CodecText
	CodecHDMVText
	CodecSRT
	CodecSubRip
	CodecSSA
	CodecASS
	CodecDVDSubtitle
	CodecDVBSubtitle
	CodecHDMVPGS
	CodecXSUB
)

// Rational is an exact fraction, used for stream time bases and sample
// aspect ratios.
type Rational struct {
	Num int
	Den int
}

// Float returns the rational as a float64, or 0 if the denominator is zero.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// IsZero reports whether the rational is unset or degenerate.
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

// PixelFormat identifies a video pixel layout. The concrete values are
// backend-defined; the pipeline only passes them through and compares them.
// FormatUnknown asks the backend to pick its preferred output.
type PixelFormat int

// FormatUnknown is the zero pixel/sample format, meaning "backend default".
const FormatUnknown = 0

// SampleFormat identifies an audio sample layout.
type SampleFormat int

// Common interleaved sample formats. Backends may define more; the
// pipeline only needs byte widths for clip-time math.
const (
	SampleUnknown SampleFormat = iota
	SampleU8
	SampleS16
	SampleS32
	SampleF32
)

// Bytes returns the per-sample byte width of the format.
func (f SampleFormat) Bytes() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16:
		return 2
	case SampleS32, SampleF32:
		return 4
	default:
		return 0
	}
}

// Signed reports whether samples of this format are signed.
func (f SampleFormat) Signed() bool {
	return f != SampleU8 && f != SampleUnknown
}

// StreamInfo describes one stream of an opened container. Immutable after
// the container probe.
type StreamInfo struct {
	Index            int
	Kind             StreamKind
	Codec            CodecID
	CodecName        string
	CodecDescription string
	TimeBase         Rational

	// CodecPrivate carries codec extradata: script-subtitle headers for
	// SSA/ASS streams, font file contents for attachment streams.
	CodecPrivate []byte

	// Metadata holds container-level stream tags such as "filename" and
	// "mimetype" for attachment streams.
	Metadata map[string]string

	// Video parameters; zero for non-video streams.
	Width             int
	Height            int
	SampleAspectRatio Rational
	PixelFormat       PixelFormat

	// Audio parameters; zero for non-audio streams.
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
}

// CodecInfo describes an opened codec, for the player info query.
type CodecInfo struct {
	Name        string
	Description string
	Threads     int
}

// VideoOutputFormat describes what the video decoder hands to the caller.
type VideoOutputFormat struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
}

// AudioOutputFormat describes the PCM the audio decoder hands to the caller.
type AudioOutputFormat struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
}

// BytesPerSecond returns the output byte rate, used to convert between
// clip bytes and clip seconds.
func (f AudioOutputFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.Format.Bytes()
}

// SubtitleOutputFormat describes the pixel format of subtitle surfaces.
// Surfaces are always RGBA, so this only carries the backend's RGBA tag.
type SubtitleOutputFormat struct {
	PixelFormat PixelFormat
}

// VideoFormatRequest asks the player to convert decoded video into a
// specific output format. The zero value means "decoder native".
type VideoFormatRequest struct {
	PixelFormat PixelFormat
	Width       int
	Height      int

	// HWDeviceTypes is a backend-defined bitmask of acceptable hardware
	// decoder device types. Zero disables hardware decode for the stream.
	HWDeviceTypes uint
}

// AudioFormatRequest asks the player to resample decoded audio into a
// specific output format. The zero value means "decoder native".
type AudioFormatRequest struct {
	Format     SampleFormat
	SampleRate int
	Channels   int
}
