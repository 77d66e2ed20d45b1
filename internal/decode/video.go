package decode

import (
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/clock"
	"github.com/zsiec/refract/internal/ring"
)

type frameOps struct{}

func (frameOps) Alloc() *av.VideoFrame        { return &av.VideoFrame{} }
func (frameOps) Unref(f *av.VideoFrame)       { f.Reset() }
func (frameOps) Move(dst, src *av.VideoFrame) { src.MoveTo(dst) }
func (frameOps) Size(f *av.VideoFrame) int    { return f.Bytes() }

// Video decodes one video stream into caller-pulled, format-converted
// frames, pacing delivery against the shared clock.
type Video struct {
	log    *slog.Logger
	stream av.StreamInfo
	dec    av.VideoDecoder
	scaler av.Scaler
	clk    *clock.Clock
	out    *ring.Buffer[*av.VideoFrame]

	inFrame  av.VideoFrame
	outFrame av.VideoFrame

	// curMu guards the held current frame, which the consuming thread
	// paces while the worker may flush it on a seek.
	curMu   sync.Mutex
	current av.VideoFrame
	valid   bool
	locked  bool

	output  av.VideoOutputFormat
	hw      bool
	lastPTS atomic.Uint64

	// Aspect ratio of the most recently delivered frame; may change
	// frame to frame. Written only from the consuming goroutine.
	sar  av.Rational
	area image.Rectangle
}

// NewVideo opens the stream's codec (hardware first when requested, with
// software fallback) and the scaler into the output pixel format.
func NewVideo(
	backend av.Backend,
	stream av.StreamInfo,
	clk *clock.Clock,
	req *av.VideoFormatRequest,
	threadCount int,
	outCapacity int,
	log *slog.Logger,
) (*Video, error) {
	if log == nil {
		log = slog.Default()
	}

	output := av.VideoOutputFormat{
		Width:       stream.Width,
		Height:      stream.Height,
		PixelFormat: backend.PreferredPixelFormat(stream.PixelFormat),
	}
	var hwMask uint
	if req != nil {
		if req.PixelFormat != av.FormatUnknown {
			output.PixelFormat = req.PixelFormat
		}
		if req.Width > 0 {
			output.Width = req.Width
		}
		if req.Height > 0 {
			output.Height = req.Height
		}
		hwMask = req.HWDeviceTypes
	}

	hw := false
	var dec av.VideoDecoder
	var err error
	if hwMask != 0 {
		dec, err = backend.NewVideoDecoder(stream, threadCount, hwMask)
		if err == nil {
			hw = true
		} else {
			log.Debug("hardware decoder unavailable, falling back to software", "error", err)
		}
	}
	if dec == nil {
		dec, err = backend.NewVideoDecoder(stream, threadCount, 0)
		if err != nil {
			return nil, err
		}
	}

	scaler, err := backend.NewScaler(output.PixelFormat)
	if err != nil {
		dec.Close()
		return nil, err
	}

	return &Video{
		log:    log.With("component", "video-decoder", "stream", stream.Index),
		stream: stream,
		dec:    dec,
		scaler: scaler,
		clk:    clk,
		out:    ring.New[*av.VideoFrame](outCapacity, frameOps{}),
		output: output,
		hw:     hw,
	}, nil
}

// OutputFormat returns the frame layout handed to the caller.
func (v *Video) OutputFormat() av.VideoOutputFormat { return v.output }

// HardwareDecode reports whether the hardware decode path was acquired.
func (v *Video) HardwareDecode() bool { return v.hw }

// SubmitPacket hands one packet to the codec.
func (v *Video) SubmitPacket(pkt *av.Packet) error {
	return v.dec.SendPacket(pkt)
}

// DecodeFrame drains one decoded frame, converts it to the output format,
// and queues it. Blocks while the output queue is full.
func (v *Video) DecodeFrame() (float64, bool) {
	if err := v.dec.ReceiveFrame(&v.inFrame); err != nil {
		return 0, false
	}
	v.outFrame.Format = v.output.PixelFormat
	if err := v.scaler.Scale(&v.inFrame, &v.outFrame); err != nil {
		v.log.Debug("frame conversion failed", "error", err)
		v.inFrame.Reset()
		return 0, false
	}
	v.outFrame.PTS = v.inFrame.PTS
	v.outFrame.SampleAspectRatio = v.inFrame.SampleAspectRatio
	v.inFrame.Reset()

	pts := float64(v.outFrame.PTS) * v.stream.TimeBase.Float()
	v.out.Write(&v.outFrame)
	return pts, true
}

// Flush drops codec state, queued frames, and the held current frame.
func (v *Video) Flush() {
	v.dec.Flush()
	v.out.Flush()
	v.curMu.Lock()
	if !v.locked {
		v.current.Reset()
		v.valid = false
	}
	v.curMu.Unlock()
}

// Signal wakes a decode loop blocked on a full output queue.
func (v *Video) Signal() { v.out.Signal() }

// Clock returns the decoder's clock handle.
func (v *Video) Clock() *clock.Clock { return v.clk }

// OutputState reports output queue fill.
func (v *Video) OutputState() (int, int) { return v.out.Len(), v.out.Cap() }

// StreamIndex returns the container stream this decoder consumes.
func (v *Video) StreamIndex() int { return v.stream.Index }

// CodecInfo returns the opened codec description.
func (v *Video) CodecInfo() av.CodecInfo { return v.dec.Info() }

// Position returns the pts of the most recently delivered frame.
func (v *Video) Position() float64 {
	return math.Float64frombits(v.lastPTS.Load())
}

// SampleAspectRatio returns the aspect ratio of the current frame, which
// is zero until a frame has been delivered.
func (v *Video) SampleAspectRatio() av.Rational { return v.sar }

func (v *Video) nextFrame() bool {
	if v.valid {
		return true
	}
	v.current.Reset()
	v.valid = v.out.Read(&v.current, 0)
	return v.valid
}

func (v *Video) currentPTS() float64 {
	return float64(v.current.PTS) * v.stream.TimeBase.Float()
}

// syncCurrent advances to the frame that is on time. Returns false when
// there is nothing deliverable right now: either the head frame is still
// ahead of the clock (it is kept for the next call) or the queue ran dry.
func (v *Video) syncCurrent() bool {
	if !v.nextFrame() {
		return false
	}
	pts := v.currentPTS()
	syncTS := v.clk.Elapsed()
	if pts > syncTS+videoSyncThreshold {
		return false
	}
	for pts < syncTS-videoSyncThreshold {
		v.valid = false
		if !v.nextFrame() {
			return false
		}
		pts = v.currentPTS()
	}
	return true
}

func (v *Video) deliver() {
	v.lastPTS.Store(math.Float64bits(v.currentPTS()))
	v.sar = v.current.SampleAspectRatio
	v.area = image.Rect(0, 0, v.current.Width, v.current.Height)
}

// Texture uploads the next on-time frame into the caller's texture.
// Returns false with no error when no frame is due. Planar output formats
// require the texture to implement av.PlanarTexture.
func (v *Video) Texture(tex av.Texture, area *image.Rectangle) (bool, error) {
	v.curMu.Lock()
	defer v.curMu.Unlock()
	if v.locked {
		return false, ErrLocked
	}
	if !v.syncCurrent() {
		return false, nil
	}

	rect := image.Rect(0, 0, v.current.Width, v.current.Height)
	var err error
	if len(v.current.Data) == 1 {
		err = tex.Update(rect, v.current.Data[0], v.current.Linesize[0])
	} else if pt, ok := tex.(av.PlanarTexture); ok {
		err = pt.UpdatePlanes(rect, v.current.Data, v.current.Linesize)
	} else {
		err = errUnsupportedUpload
	}
	if err != nil {
		return false, err
	}

	v.deliver()
	if area != nil {
		*area = v.area
	}
	v.valid = false
	v.current.Reset()
	return true, nil
}

// LockFrame exposes the next on-time frame's planes without copying. The
// caller must call Unlock before any other video operation; until then
// the worker keeps the frame alive.
func (v *Video) LockFrame(area *image.Rectangle) (planes [][]byte, linesizes []int, ok bool, err error) {
	v.curMu.Lock()
	defer v.curMu.Unlock()
	if v.locked {
		return nil, nil, false, ErrLocked
	}
	if !v.syncCurrent() {
		return nil, nil, false, nil
	}
	v.deliver()
	if area != nil {
		*area = v.area
	}
	v.locked = true
	return v.current.Data, v.current.Linesize, true, nil
}

// Unlock returns a locked frame to the worker so it can be discarded.
func (v *Video) Unlock() {
	v.curMu.Lock()
	defer v.curMu.Unlock()
	if !v.locked {
		return
	}
	v.locked = false
	v.valid = false
	v.current.Reset()
}

// Close releases the codec, scaler, queued frames, and clock handle.
func (v *Video) Close() error {
	v.out.Flush()
	err := v.scaler.Close()
	if derr := v.dec.Close(); err == nil {
		err = derr
	}
	v.clk.Close()
	return err
}
