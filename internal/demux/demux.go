// Package demux owns the container-reading side of the pipeline: one
// worker goroutine pulls packets from the container and routes them into
// per-stream bounded queues for the decoder workers, and carries out the
// seek protocol on the pipeline's behalf.
package demux

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/ring"
)

// Index selects one of the demuxer's per-kind packet queues.
type Index int

// Queue indexes.
const (
	IndexVideo Index = iota
	IndexAudio
	IndexSubtitle
	indexCount
)

// PacketOps is the ring-buffer payload lifecycle for packets.
type PacketOps struct{}

// Alloc builds an empty packet slot.
func (PacketOps) Alloc() *av.Packet { return &av.Packet{StreamIndex: -1} }

// Unref clears a packet slot.
func (PacketOps) Unref(p *av.Packet) { p.Reset() }

// Move transfers packet contents between slot and scratch.
func (PacketOps) Move(dst, src *av.Packet) { src.MoveTo(dst) }

// Size returns the packet payload size.
func (PacketOps) Size(p *av.Packet) int { return len(p.Data) }

// Demuxer routes container packets into up to three per-stream queues.
// Queues exist only for selected streams; everything else is dropped.
type Demuxer struct {
	log     *slog.Logger
	c       av.Container
	buffers [indexCount]*ring.Buffer[*av.Packet]
	scratch *av.Packet

	// Stream selections are atomic so the coordinator can retarget a
	// queue while the worker loop keeps routing.
	streams [indexCount]atomic.Int32
}

// New creates a demuxer over an opened container. Stream indexes of -1
// disable the corresponding queue. Queue capacities are caller-supplied,
// resolved from the process hints.
func New(c av.Container, videoStream, audioStream, subtitleStream int, caps [3]int, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		log:     log.With("component", "demuxer"),
		c:       c,
		scratch: &av.Packet{StreamIndex: -1},
	}
	selected := [indexCount]int{videoStream, audioStream, subtitleStream}
	for i := Index(0); i < indexCount; i++ {
		d.streams[i].Store(int32(selected[i]))
		if selected[i] >= 0 {
			d.buffers[i] = ring.New[*av.Packet](caps[i], PacketOps{})
		}
	}
	return d
}

// Step reads one packet from the container and routes it. Returns false
// when the container is exhausted or errored; the worker idles after that
// until a seek rewinds the source.
func (d *Demuxer) Step() bool {
	if err := d.c.ReadPacket(d.scratch); err != nil {
		if !errors.Is(err, io.EOF) {
			d.log.Debug("container read failed", "error", err)
		}
		return false
	}
	for i := Index(0); i < indexCount; i++ {
		if d.buffers[i] != nil && d.scratch.StreamIndex == int(d.streams[i].Load()) {
			// May block on a full queue; a signal during shutdown or
			// seek makes the write fail and the packet is dropped.
			d.buffers[i].Write(d.scratch)
			d.scratch.Reset()
			return true
		}
	}
	d.scratch.Reset()
	return true
}

// Seek repositions the container and emits a seek-marker packet into each
// selected stream's queue. The markers act as barriers: a decoder flushes
// codec state and re-anchors the shared clock when it consumes one.
func (d *Demuxer) Seek(targetMicros int64) error {
	if err := d.c.Seek(targetMicros); err != nil {
		return err
	}
	d.Flush()
	for i := Index(0); i < indexCount; i++ {
		if d.buffers[i] == nil {
			continue
		}
		marker := &av.Packet{StreamIndex: int(d.streams[i].Load()), Tag: av.TagSeekMarker}
		d.buffers[i].Write(marker)
	}
	return nil
}

// Buffer returns the packet queue for the index, or nil if the stream is
// not selected.
func (d *Demuxer) Buffer(i Index) *ring.Buffer[*av.Packet] {
	return d.buffers[i]
}

// StreamIndex returns the container stream feeding the queue, or -1.
func (d *Demuxer) StreamIndex(i Index) int {
	return int(d.streams[i].Load())
}

// SetStreamIndex retargets a queue to another container stream, flushing
// any queued packets from the old one. The queue must have been selected
// at construction; enabling a previously disabled kind needs a rebuild.
func (d *Demuxer) SetStreamIndex(i Index, stream int) bool {
	if d.buffers[i] == nil {
		return false
	}
	d.buffers[i].Flush()
	d.streams[i].Store(int32(stream))
	return true
}

// BufferState reports length, capacity and queued bytes of one queue.
func (d *Demuxer) BufferState(i Index) (length, capacity, bytes int) {
	b := d.buffers[i]
	if b == nil {
		return 0, 0, 0
	}
	return b.Len(), b.Cap(), b.Bytes()
}

// Flush drops all queued packets from every queue.
func (d *Demuxer) Flush() {
	for i := Index(0); i < indexCount; i++ {
		if d.buffers[i] != nil {
			d.buffers[i].Flush()
		}
	}
}

// Signal wakes every party blocked on any queue.
func (d *Demuxer) Signal() {
	for i := Index(0); i < indexCount; i++ {
		if d.buffers[i] != nil {
			d.buffers[i].Signal()
		}
	}
}
