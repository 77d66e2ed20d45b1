package decode

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/ring"
)

// inputReadTimeout bounds one wait for an incoming packet so the worker
// re-checks its run flag at a steady cadence.
const inputReadTimeout = 10 * time.Millisecond

// Thread runs one Decoder on its own goroutine, pumping packets from the
// input queue into the codec and draining decoded output.
type Thread struct {
	log     *slog.Logger
	input   *ring.Buffer[*av.Packet]
	dec     Decoder
	scratch *av.Packet

	run       atomic.Bool
	done      chan struct{}
	ptsJumped bool
}

// NewThread builds a worker around a decoder and its input queue.
func NewThread(input *ring.Buffer[*av.Packet], dec Decoder, name string, log *slog.Logger) *Thread {
	if log == nil {
		log = slog.Default()
	}
	return &Thread{
		log:     log.With("component", name),
		input:   input,
		dec:     dec,
		scratch: &av.Packet{StreamIndex: -1},
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (t *Thread) Start() {
	if !t.run.CompareAndSwap(false, true) {
		return
	}
	go t.main()
}

// Stop asks the worker to exit and waits for it. The input queue and the
// decoder's output queue are signaled repeatedly until the goroutine
// exits: a single signal could land just before the worker re-enters a
// blocking wait.
func (t *Thread) Stop() {
	if !t.run.CompareAndSwap(true, false) {
		return
	}
	for {
		t.input.Signal()
		t.dec.Signal()
		select {
		case <-t.done:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// processPacket moves one packet from the input queue into the codec.
// A seek marker flushes codec and output state instead, and arms the
// clock re-anchor for the next decoded frame. A temporarily refused
// packet is returned to the queue head for one retry later.
func (t *Thread) processPacket() {
	if !t.input.BeginRead(t.scratch, inputReadTimeout) {
		return
	}
	if t.scratch.Tag == av.TagSeekMarker {
		t.dec.Flush()
		t.ptsJumped = true
		t.input.FinishRead()
		t.scratch.Reset()
		return
	}
	if err := t.dec.SubmitPacket(t.scratch); err != nil {
		if errors.Is(err, av.ErrAgain) {
			t.input.CancelRead(t.scratch)
			return
		}
		t.log.Debug("codec rejected packet", "error", err)
	}
	t.input.FinishRead()
	t.scratch.Reset()
}

func (t *Thread) main() {
	defer close(t.done)
	for t.run.Load() {
		t.processPacket()

		// One packet may hold several frames; drain until the codec
		// runs dry. After a seek, the first frame's pts re-anchors the
		// shared clock so elapsed time equals the decoded position.
		for t.run.Load() {
			pts, ok := t.dec.DecodeFrame()
			if !ok {
				break
			}
			if t.ptsJumped {
				t.dec.Clock().AdjustBase(pts)
				t.ptsJumped = false
			}
		}
	}
	t.log.Debug("decoder worker exited")
}
