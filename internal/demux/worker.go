package demux

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrStopped is returned from Seek when the worker is no longer running.
var ErrStopped = errors.New("demux: worker stopped")

// idleDelay paces the worker loop once the container is exhausted, so it
// stays responsive to seek requests without spinning.
const idleDelay = 2 * time.Millisecond

type seekRequest struct {
	target int64
	result chan error
}

// Worker drives a Demuxer on its own goroutine. Cancellation is
// cooperative: Stop clears the run flag and signals the queues so a
// blocked write returns.
type Worker struct {
	log *slog.Logger
	d   *Demuxer

	run    atomic.Bool
	seekCh chan seekRequest
	done   chan struct{}
	eof    atomic.Bool
}

// NewWorker wraps a demuxer. Start must be called before use.
func NewWorker(d *Demuxer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		log:    log.With("component", "demuxer-worker"),
		d:      d,
		seekCh: make(chan seekRequest, 1),
		done:   make(chan struct{}),
	}
}

// Demuxer returns the wrapped demuxer.
func (w *Worker) Demuxer() *Demuxer { return w.d }

// Start launches the worker goroutine. Idempotent once started.
func (w *Worker) Start() {
	if !w.run.CompareAndSwap(false, true) {
		return
	}
	go w.main()
}

// Stop asks the worker to exit and waits for it. Queues are signaled
// repeatedly until the goroutine exits, in case the worker re-enters a
// blocking write between signal and check.
func (w *Worker) Stop() {
	if !w.run.CompareAndSwap(true, false) {
		return
	}
	for {
		w.d.Signal()
		select {
		case <-w.done:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// EOF reports whether the container has been exhausted. A successful seek
// clears it.
func (w *Worker) EOF() bool {
	return w.eof.Load()
}

// Seek asks the worker to reposition the container and blocks until the
// seek has been carried out, returning the container's verdict. The
// decoder input queues are signaled first so blocked parties re-check
// state and the worker cannot be stuck writing into a full queue.
func (w *Worker) Seek(targetMicros int64) error {
	if !w.run.Load() {
		return ErrStopped
	}
	req := seekRequest{target: targetMicros, result: make(chan error, 1)}
	w.seekCh <- req
	w.d.Signal()
	select {
	case err := <-req.result:
		return err
	case <-w.done:
		return ErrStopped
	}
}

func (w *Worker) main() {
	defer close(w.done)
	for w.run.Load() {
		select {
		case req := <-w.seekCh:
			err := w.d.Seek(req.target)
			if err != nil {
				w.log.Debug("container seek failed", "error", err)
			} else {
				w.eof.Store(false)
			}
			req.result <- err
		default:
			if w.d.Step() {
				w.eof.Store(false)
				continue
			}
			w.eof.Store(true)
			time.Sleep(idleDelay)
		}
	}
	// Drain a seek that raced with shutdown so the caller is not stuck.
	select {
	case req := <-w.seekCh:
		req.result <- ErrStopped
	default:
	}
	w.log.Debug("demuxer worker exited")
}
