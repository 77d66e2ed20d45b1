package refract

import (
	"time"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/clock"
	"github.com/zsiec/refract/internal/config"
	"github.com/zsiec/refract/internal/decode"
	"github.com/zsiec/refract/internal/demux"
)

func kindIndex(kind av.StreamKind) (demux.Index, bool) {
	switch kind {
	case av.KindVideo:
		return demux.IndexVideo, true
	case av.KindAudio:
		return demux.IndexAudio, true
	case av.KindSubtitle:
		return demux.IndexSubtitle, true
	default:
		return 0, false
	}
}

// Stream returns the container stream index selected for the kind, or -1.
func (p *Player) Stream(kind av.StreamKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := kindIndex(kind)
	if !ok || p.worker == nil {
		return -1
	}
	return p.worker.Demuxer().StreamIndex(idx)
}

// CloseStream stops decoding the kind and stops routing its packets.
// Closing the video stream also closes subtitles, which cannot exist
// without video. The queue slot stays reserved, so the stream can be
// re-enabled later with SetStream.
func (p *Player) CloseStream(kind av.StreamKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return ErrClosed
	}
	return p.closeStreamLocked(kind)
}

func (p *Player) closeStreamLocked(kind av.StreamKind) error {
	idx, ok := kindIndex(kind)
	if !ok {
		return ErrInvalidStream
	}
	switch kind {
	case av.KindVideo:
		if p.video == nil {
			return ErrNoStream
		}
		if p.subtitle != nil {
			p.closeStreamLocked(av.KindSubtitle)
		}
		p.video.Signal()
		p.videoThread.Stop()
		p.video.Close()
		p.video, p.videoThread = nil, nil
	case av.KindAudio:
		if p.audio == nil {
			return ErrNoStream
		}
		p.audio.Signal()
		p.audioThread.Stop()
		p.audio.Close()
		p.audio, p.audioThread = nil, nil
		// The primary clock handle left with the audio decoder; promote
		// the next sync authority so seeks keep re-anchoring the base.
		if p.video != nil {
			p.video.Clock().SetWritable(true)
		}
	case av.KindSubtitle:
		if p.subtitle == nil {
			return ErrNoStream
		}
		p.subtitle.Signal()
		p.subThread.Stop()
		p.subtitle.Close()
		p.subtitle, p.subThread = nil, nil
	}
	p.worker.Demuxer().SetStreamIndex(idx, -1)
	p.setStreamConfig(kind, -1)
	return nil
}

func (p *Player) setStreamConfig(kind av.StreamKind, index int) {
	switch kind {
	case av.KindVideo:
		p.cfg.VideoStream = index
	case av.KindAudio:
		p.cfg.AudioStream = index
	case av.KindSubtitle:
		p.cfg.SubtitleStream = index
	}
}

// SetStream switches the kind to another container stream, during or
// outside playback. On failure the old stream keeps playing. An index of
// -1 closes the stream. Only kinds selected at construction can be
// switched: their queue plumbing exists; others need a new player.
func (p *Player) SetStream(kind av.StreamKind, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return ErrClosed
	}
	if index < 0 {
		return p.closeStreamLocked(kind)
	}
	idx, ok := kindIndex(kind)
	if !ok {
		return ErrInvalidStream
	}
	d := p.worker.Demuxer()
	if d.Buffer(idx) == nil {
		return ErrNoStream
	}
	if d.StreamIndex(idx) == index {
		return nil
	}
	info, err := p.streamOfKind(index, kind)
	if err != nil {
		return err
	}

	// Build the replacement first so failure leaves the old stream
	// untouched.
	threads := config.Get(config.KeyThreadCount)
	var newAudio *decode.Audio
	var newVideo *decode.Video
	var newSub *decode.Subtitle
	switch kind {
	case av.KindAudio:
		newAudio, err = decode.NewAudio(
			p.backend, info, p.clk.Derive(true), p.cfg.AudioFormat,
			threads, config.Get(config.KeyAudioBufferFrames), p.log,
		)
	case av.KindVideo:
		newVideo, err = decode.NewVideo(
			p.backend, info, p.clk.Derive(p.audio == nil), p.cfg.VideoFormat,
			threads, config.Get(config.KeyVideoBufferFrames), p.log,
		)
	case av.KindSubtitle:
		newSub, err = p.newSubtitleDecoder(p.clk, index)
	}
	if err != nil {
		return err
	}

	pos := p.positionLocked()

	// Retire the old decoder and splice the new one onto the same queue.
	switch kind {
	case av.KindAudio:
		if p.audio != nil {
			p.audio.Signal()
			p.audioThread.Stop()
		}
		d.SetStreamIndex(idx, index)
		if p.audio != nil {
			p.audio.Close()
		}
		p.audio = newAudio
		p.audioThread = decode.NewThread(d.Buffer(idx), p.audio, "audio-worker", p.log)
		p.audioThread.Start()
		// Audio is the sync authority again; video reverts to read-only.
		if p.video != nil {
			p.video.Clock().SetWritable(false)
		}
	case av.KindVideo:
		if p.video != nil {
			p.video.Signal()
			p.videoThread.Stop()
		}
		d.SetStreamIndex(idx, index)
		if p.video != nil {
			p.video.Close()
		}
		p.video = newVideo
		p.videoThread = decode.NewThread(d.Buffer(idx), p.video, "video-worker", p.log)
		p.videoThread.Start()
	case av.KindSubtitle:
		if p.subtitle != nil {
			p.subtitle.Signal()
			p.subThread.Stop()
		}
		d.SetStreamIndex(idx, index)
		if p.subtitle != nil {
			p.subtitle.Close()
		}
		p.subtitle = newSub
		p.subThread = decode.NewThread(d.Buffer(idx), p.subtitle, "subtitle-worker", p.log)
		p.subThread.Start()
	}
	p.setStreamConfig(kind, index)

	// Rejoin at the current position so the new stream decodes in sync;
	// when playback has not started this rewinds the container so the new
	// stream is not joined mid-file.
	if err := p.worker.Seek(int64(pos * 1e6)); err != nil {
		p.log.Debug("post-switch seek failed", "error", err)
	}
	return nil
}

func (p *Player) positionLocked() float64 {
	switch {
	case p.audio != nil:
		return p.audio.Position()
	case p.video != nil:
		return p.video.Position()
	case p.clk != nil:
		return p.clk.Elapsed()
	default:
		return 0
	}
}

func (p *Player) bufferState(dec decode.Decoder, idx demux.Index) BufferState {
	var bs BufferState
	if dec != nil {
		bs.OutputLength, bs.OutputCapacity = dec.OutputState()
	}
	if p.worker != nil {
		bs.InputLength, bs.InputCapacity, _ = p.worker.Demuxer().BufferState(idx)
	}
	return bs
}

// VideoBufferState reports the fill of the video queues.
func (p *Player) VideoBufferState() (BufferState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.video == nil {
		return BufferState{}, ErrNoStream
	}
	return p.bufferState(p.video, demux.IndexVideo), nil
}

// AudioBufferState reports the fill of the audio queues.
func (p *Player) AudioBufferState() (BufferState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil {
		return BufferState{}, ErrNoStream
	}
	return p.bufferState(p.audio, demux.IndexAudio), nil
}

// SubtitleBufferState reports the fill of the subtitle queues.
func (p *Player) SubtitleBufferState() (BufferState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subtitle == nil {
		return BufferState{}, ErrNoStream
	}
	return p.bufferState(p.subtitle, demux.IndexSubtitle), nil
}

// rateMet reports whether length/capacity clears the percentage, treating
// absent buffers as satisfied.
func rateMet(length, capacity, percent int) bool {
	if percent < 0 || capacity == 0 {
		return true
	}
	return length*100 >= percent*capacity
}

// HasBufferFillRate reports whether every requested queue has reached its
// fill percentage. Arguments are percentages 0-100, or -1 to ignore that
// queue.
func (p *Player) HasBufferFillRate(audioIn, audioOut, videoIn, videoOut int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	var adec, vdec decode.Decoder
	if p.audio != nil {
		adec = p.audio
	}
	if p.video != nil {
		vdec = p.video
	}
	audio := p.bufferState(adec, demux.IndexAudio)
	video := p.bufferState(vdec, demux.IndexVideo)
	return rateMet(audio.InputLength, audio.InputCapacity, audioIn) &&
		rateMet(audio.OutputLength, audio.OutputCapacity, audioOut) &&
		rateMet(video.InputLength, video.InputCapacity, videoIn) &&
		rateMet(video.OutputLength, video.OutputCapacity, videoOut)
}

// WaitBufferFillRate polls HasBufferFillRate until it holds or the
// timeout passes, returning ErrTimeout in the latter case. Useful for
// prebuffering before the first Play.
func (p *Player) WaitBufferFillRate(audioIn, audioOut, videoIn, videoOut int, timeout time.Duration) error {
	deadline := clock.Now() + timeout.Seconds()
	for {
		if p.HasBufferFillRate(audioIn, audioOut, videoIn, videoOut) {
			return nil
		}
		p.mu.Lock()
		closed := p.state == StateClosed
		p.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if clock.Now() >= deadline {
			return ErrTimeout
		}
		time.Sleep(fillPollInterval)
	}
}
