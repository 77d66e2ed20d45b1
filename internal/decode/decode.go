// Package decode implements the decoder workers: a generic worker skeleton
// plus audio, video, and subtitle decoders built on it. Each worker drains
// one demuxed packet queue, pushes decoded output into its own bounded
// queue, and keeps the shared presentation clock anchored across seeks.
package decode

import (
	"errors"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/clock"
)

// Sync windows around the shared clock within which output is considered
// on time. Audio gets the wider window because segment granularity is
// coarser than frame granularity.
const (
	audioSyncThreshold = 0.05
	videoSyncThreshold = 0.02
)

// ErrLocked is returned when a video operation is attempted while a raw
// frame is locked out to the caller.
var ErrLocked = errors.New("decode: raw frame locked")

// Decoder is the kind-specific half of a decoder worker. The Thread
// skeleton drives it: packets in through SubmitPacket, ready output
// drained through DecodeFrame. Implementations push their output into
// their own ring buffer; DecodeFrame's pts return lets the skeleton
// re-anchor the clock after a seek.
type Decoder interface {
	// SubmitPacket hands one packet to the codec. Returns av.ErrAgain if
	// the codec is temporarily full; the skeleton re-offers the packet.
	SubmitPacket(pkt *av.Packet) error

	// DecodeFrame drains one ready frame from the codec into the output
	// queue, blocking while the queue is full. Returns the frame's pts in
	// seconds and false when the codec has nothing ready.
	DecodeFrame() (pts float64, ok bool)

	// Flush drops codec state and queued output. Called on seek markers.
	Flush()

	// Signal wakes anything blocked on the output queue.
	Signal()

	// Clock returns the decoder's handle onto the shared clock.
	Clock() *clock.Clock

	// OutputState reports the output queue's length and capacity.
	OutputState() (length, capacity int)

	StreamIndex() int
	CodecInfo() av.CodecInfo
	Close() error
}

// errUnsupportedUpload reports a planar frame offered to a texture that
// only accepts single-plane uploads.
var errUnsupportedUpload = errors.New("decode: texture cannot accept planar frames")
