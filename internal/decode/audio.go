package decode

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/clock"
	"github.com/zsiec/refract/internal/ring"
)

// segment is one resampled block of PCM with its presentation timestamp.
// consumed tracks partial delivery across ReadData calls; the pts advances
// with it so the sync window always compares against the unread head.
type segment struct {
	pts      float64
	data     []byte
	consumed int
}

type segmentOps struct{}

func (segmentOps) Alloc() *segment     { return &segment{} }
func (segmentOps) Unref(s *segment)    { *s = segment{} }
func (segmentOps) Size(s *segment) int { return len(s.data) }

func (segmentOps) Move(dst, src *segment) {
	*dst = *src
	*src = segment{}
}

// Audio decodes one audio stream into caller-pulled PCM. It owns the
// primary (writable) clock handle when audio is present: audio delivery
// is what keeps the pipeline honest.
type Audio struct {
	log    *slog.Logger
	stream av.StreamInfo
	dec    av.AudioDecoder
	rs     av.Resampler
	clk    *clock.Clock
	out    *ring.Buffer[*segment]

	scratchFrame av.AudioFrame
	scratchSeg   segment

	// curMu guards the partially-read current segment, which the
	// consuming thread reads while the worker may flush it on a seek.
	curMu   sync.Mutex
	current segment
	valid   bool

	output  av.AudioOutputFormat
	lastPTS atomic.Uint64 // float64 bits of the last delivered pts
}

// NewAudio opens the stream's codec and resampler and builds the decoder.
// The clock handle is owned by the decoder and closed with it.
func NewAudio(
	backend av.Backend,
	stream av.StreamInfo,
	clk *clock.Clock,
	req *av.AudioFormatRequest,
	threadCount int,
	outCapacity int,
	log *slog.Logger,
) (*Audio, error) {
	if log == nil {
		log = slog.Default()
	}

	output := av.AudioOutputFormat{
		SampleRate: stream.SampleRate,
		Channels:   stream.Channels,
		Format:     backend.PreferredSampleFormat(stream.SampleFormat),
	}
	if req != nil {
		if req.SampleRate > 0 {
			output.SampleRate = req.SampleRate
		}
		if req.Channels > 0 {
			output.Channels = req.Channels
		}
		if req.Format != av.SampleUnknown {
			output.Format = req.Format
		}
	}

	dec, err := backend.NewAudioDecoder(stream, threadCount)
	if err != nil {
		return nil, err
	}
	rs, err := backend.NewResampler(stream, output)
	if err != nil {
		dec.Close()
		return nil, err
	}

	return &Audio{
		log:    log.With("component", "audio-decoder", "stream", stream.Index),
		stream: stream,
		dec:    dec,
		rs:     rs,
		clk:    clk,
		out:    ring.New[*segment](outCapacity, segmentOps{}),
		output: output,
	}, nil
}

// OutputFormat returns the PCM layout handed to the caller.
func (a *Audio) OutputFormat() av.AudioOutputFormat { return a.output }

// SubmitPacket hands one packet to the codec.
func (a *Audio) SubmitPacket(pkt *av.Packet) error {
	return a.dec.SendPacket(pkt)
}

// DecodeFrame drains one decoded frame, resamples it, and queues the
// resulting segment. Blocks while the output queue is full.
func (a *Audio) DecodeFrame() (float64, bool) {
	if err := a.dec.ReceiveFrame(&a.scratchFrame); err != nil {
		return 0, false
	}
	pts := float64(a.scratchFrame.PTS) * a.stream.TimeBase.Float()
	data, err := a.rs.Convert(&a.scratchFrame)
	a.scratchFrame.Reset()
	if err != nil {
		a.log.Debug("resample failed", "error", err)
		return 0, false
	}
	a.scratchSeg = segment{pts: pts, data: data}
	a.out.Write(&a.scratchSeg)
	return pts, true
}

// Flush drops codec state, queued segments, and the partially-read
// current segment.
func (a *Audio) Flush() {
	a.dec.Flush()
	a.out.Flush()
	a.curMu.Lock()
	a.current = segment{}
	a.valid = false
	a.curMu.Unlock()
}

// Signal wakes a decode loop blocked on a full output queue.
func (a *Audio) Signal() { a.out.Signal() }

// Clock returns the decoder's clock handle.
func (a *Audio) Clock() *clock.Clock { return a.clk }

// OutputState reports output queue fill.
func (a *Audio) OutputState() (int, int) { return a.out.Len(), a.out.Cap() }

// StreamIndex returns the container stream this decoder consumes.
func (a *Audio) StreamIndex() int { return a.stream.Index }

// CodecInfo returns the opened codec description.
func (a *Audio) CodecInfo() av.CodecInfo { return a.dec.Info() }

// Position returns the pts of the most recently delivered audio.
func (a *Audio) Position() float64 {
	return math.Float64frombits(a.lastPTS.Load())
}

// Drained reports whether delivery has caught up with decoded output: no
// queued segments and no unread bytes in the current one. Meaningful only
// from the consuming thread.
func (a *Audio) Drained() bool {
	a.curMu.Lock()
	pending := a.valid && a.current.consumed < len(a.current.data)
	a.curMu.Unlock()
	if pending {
		return false
	}
	return a.out.Len() == 0
}

// pop discards the current segment and pulls the next one, non-blocking.
func (a *Audio) pop() bool {
	a.current = segment{}
	a.valid = a.out.Read(&a.current, 0)
	return a.valid
}

// ReadData copies up to len(dst) bytes of on-time PCM into dst and
// returns the byte count. Data ahead of the clock's sync window yields 0
// so the caller retries; data behind it is skipped. The consumed offset
// and pts advance together so partial reads stay sample-accurate.
func (a *Audio) ReadData(dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	a.curMu.Lock()
	defer a.curMu.Unlock()
	if !a.valid || a.current.consumed >= len(a.current.data) {
		if !a.pop() {
			return 0
		}
	}

	syncTS := a.clk.Elapsed()
	if a.current.pts > syncTS+audioSyncThreshold {
		return 0
	}
	for a.current.pts < syncTS-audioSyncThreshold {
		if !a.pop() {
			return 0
		}
	}

	n := len(a.current.data) - a.current.consumed
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst, a.current.data[a.current.consumed:a.current.consumed+n])
	a.current.consumed += n
	if rate := a.output.BytesPerSecond(); rate > 0 {
		a.current.pts += float64(n) / float64(rate)
	}
	a.lastPTS.Store(math.Float64bits(a.current.pts))
	return n
}

// Close releases the codec, resampler, queued output, and clock handle.
func (a *Audio) Close() error {
	a.out.Flush()
	err := a.rs.Close()
	if derr := a.dec.Close(); err == nil {
		err = derr
	}
	a.clk.Close()
	return err
}
