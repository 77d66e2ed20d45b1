// Package clock provides the shared presentation clock the decoder workers
// synchronize against. One record holds the playback base; any number of
// handles share it, but only writable handles may move the base.
package clock

import (
	"sync/atomic"
	"time"
)

// epoch anchors the monotonic time source. All bases are expressed as
// microseconds since this point.
var epoch = time.Now()

func nowMicros() int64 {
	return time.Since(epoch).Microseconds()
}

// record is the shared clock value. The base is a single atomic so
// concurrent writers and readers never tear, which keeps reads lock-free
// well inside the pipeline's 20/50 ms sync windows.
type record struct {
	baseMicros  atomic.Int64
	initialized atomic.Bool
	refs        atomic.Int32
	released    atomic.Bool
}

// Clock is one handle onto a shared clock record. Handles are created by
// New (primary, writable) or Derive, and must be closed individually.
// Writability is atomic so the coordinator can promote a surviving
// handle when the stream owning the primary one closes.
type Clock struct {
	ref      *record
	writable atomic.Bool
}

// New creates a clock with a fresh, uninitialized base. The returned
// primary handle is writable.
func New() *Clock {
	r := &record{}
	r.refs.Store(1)
	c := &Clock{ref: r}
	c.writable.Store(true)
	return c
}

// Derive returns a new handle sharing the receiver's base. The handle is
// writable only if requested.
func (c *Clock) Derive(writable bool) *Clock {
	c.ref.refs.Add(1)
	d := &Clock{ref: c.ref}
	d.writable.Store(writable)
	return d
}

// Primary reports whether this handle may move the base.
func (c *Clock) Primary() bool {
	return c.writable.Load()
}

// SetWritable promotes or demotes this handle. Used when the sync
// authority changes: closing the audio stream hands the base to video.
func (c *Clock) SetWritable(writable bool) {
	c.writable.Store(writable)
}

// Initialized reports whether the base has been set since creation or the
// last Reset.
func (c *Clock) Initialized() bool {
	return c.ref.initialized.Load()
}

// InitBase sets the base to now if it has not been set yet. Idempotent
// thereafter.
func (c *Clock) InitBase() {
	if !c.writable.Load() || c.ref.initialized.Load() {
		return
	}
	c.ref.baseMicros.Store(nowMicros())
	c.ref.initialized.Store(true)
}

// SetBase forces the base to now, so Elapsed restarts from zero.
func (c *Clock) SetBase() {
	if !c.writable.Load() {
		return
	}
	c.ref.baseMicros.Store(nowMicros())
	c.ref.initialized.Store(true)
}

// AdjustBase moves the base so that Elapsed immediately equals d seconds.
// Decoders call this with the first post-seek pts to re-anchor playback.
func (c *Clock) AdjustBase(d float64) {
	if !c.writable.Load() {
		return
	}
	c.ref.baseMicros.Store(nowMicros() - int64(d*1e6))
	c.ref.initialized.Store(true)
}

// AddBase advances the base by d seconds, shrinking Elapsed by the same
// amount. Used on resume to swallow the paused duration.
func (c *Clock) AddBase(d float64) {
	if !c.writable.Load() {
		return
	}
	c.ref.baseMicros.Add(int64(d * 1e6))
	c.ref.initialized.Store(true)
}

// Reset marks the base uninitialized so the next InitBase takes effect.
func (c *Clock) Reset() {
	if !c.writable.Load() {
		return
	}
	c.ref.initialized.Store(false)
}

// Elapsed returns seconds since the base.
func (c *Clock) Elapsed() float64 {
	return float64(nowMicros()-c.ref.baseMicros.Load()) / 1e6
}

// Close drops this handle's reference. The shared record is released when
// the last handle closes; closing an already-closed handle is a no-op.
func (c *Clock) Close() {
	if c.ref == nil {
		return
	}
	if c.ref.refs.Add(-1) == 0 {
		c.ref.released.Store(true)
	}
	c.ref = nil
}

// Now returns the monotonic wall time in seconds, on the same scale the
// clock bases use. The coordinator uses it to measure pause durations.
func Now() float64 {
	return float64(nowMicros()) / 1e6
}
