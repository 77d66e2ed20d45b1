package refract

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/clock"
	"github.com/zsiec/refract/internal/config"
	"github.com/zsiec/refract/internal/decode"
	"github.com/zsiec/refract/internal/demux"
)

// State is the player's playback state.
type State int

// Playback states.
const (
	StateStopped State = iota // playback stopped or not started yet
	StatePlaying              // actively decoding and handing out data
	StatePaused               // actively decoding, no new data handed out
	StateClosed               // player torn down
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// fillPollInterval paces WaitBufferFillRate's fill checks.
const fillPollInterval = 10 * time.Millisecond

// PlayerConfig selects the streams and output formats of a player.
// Stream indexes of -1 leave the kind out; at least one of video or audio
// must be selected, and subtitles require video.
type PlayerConfig struct {
	VideoStream    int
	AudioStream    int
	SubtitleStream int

	// Optional output format requests. Nil keeps decoder-native formats.
	VideoFormat *av.VideoFormatRequest
	AudioFormat *av.AudioFormatRequest

	// Screen dimensions, used for subtitle positioning, scaling, and the
	// script rendering resolution.
	ScreenWidth  int
	ScreenHeight int
}

// PlayerInfo aggregates codec and output format information for the
// player's selected streams. Unselected kinds hold zero values.
type PlayerInfo struct {
	VideoCodec     av.CodecInfo
	AudioCodec     av.CodecInfo
	SubtitleCodec  av.CodecInfo
	VideoFormat    av.VideoOutputFormat
	AudioFormat    av.AudioOutputFormat
	SubtitleFormat av.SubtitleOutputFormat
}

// BufferState reports the fill of one stream's queues: decoded output
// and demuxed input.
type BufferState struct {
	OutputLength   int
	OutputCapacity int
	InputLength    int
	InputCapacity  int
}

// Player is the pipeline coordinator: one demuxer worker, up to three
// decoder workers, and the shared presentation clock. All methods are
// safe for use from the caller's thread; data getters are meant to be
// polled from the host's audio and render callbacks.
type Player struct {
	mu  sync.Mutex
	log *slog.Logger
	src *Source

	backend av.Backend
	flags   InitFlags
	cfg     PlayerConfig

	worker      *demux.Worker
	audio       *decode.Audio
	video       *decode.Video
	subtitle    *decode.Subtitle
	audioThread *decode.Thread
	videoThread *decode.Thread
	subThread   *decode.Thread

	// clk is the player's own writable handle; the base record is shared
	// with every decoder.
	clk *clock.Clock

	state        State
	pauseStarted float64
}

// NewPlayer builds a playback pipeline over a source and starts its
// worker goroutines. Decoding begins at once; decoded data is released
// only after Play. The source stays
// borrowed until Close and must outlive the player.
func NewPlayer(src *Source, cfg PlayerConfig) (*Player, error) {
	backend, flags, err := backendHandle()
	if err != nil {
		return nil, err
	}
	if cfg.SubtitleStream >= 0 && cfg.VideoStream < 0 {
		return nil, ErrSubtitleWithoutVideo
	}
	if cfg.VideoStream < 0 && cfg.AudioStream < 0 {
		return nil, setupErr("player", ErrNoStream)
	}
	if err := src.borrow(); err != nil {
		return nil, err
	}

	p := &Player{
		log:     slog.Default().With("component", "player"),
		src:     src,
		backend: backend,
		flags:   flags,
		cfg:     cfg,
	}
	if err := p.build(); err != nil {
		src.release()
		return nil, err
	}
	return p, nil
}

// streamOfKind validates that the index names a stream of the wanted kind.
func (p *Player) streamOfKind(index int, kind av.StreamKind) (av.StreamInfo, error) {
	info, err := p.src.StreamInfo(index)
	if err != nil {
		return av.StreamInfo{}, err
	}
	if info.Kind != kind {
		return av.StreamInfo{}, ErrInvalidStream
	}
	return info, nil
}

// build constructs decoders, demuxer, and workers. On failure everything
// constructed so far is rolled back in reverse order.
func (p *Player) build() (err error) {
	threads := config.Get(config.KeyThreadCount)
	cfg := p.cfg

	// The primary clock belongs to the audio decoder when audio is
	// present; video otherwise. Everyone else shares its base.
	base := clock.New()
	defer func() {
		if err != nil {
			p.teardown()
			base.Close()
		}
	}()

	if cfg.AudioStream >= 0 {
		info, serr := p.streamOfKind(cfg.AudioStream, av.KindAudio)
		if serr != nil {
			return setupErr("audio stream", serr)
		}
		p.audio, err = decode.NewAudio(
			p.backend, info, base.Derive(true), cfg.AudioFormat,
			threads, config.Get(config.KeyAudioBufferFrames), p.log,
		)
		if err != nil {
			return setupErr("audio decoder", err)
		}
	}

	if cfg.VideoStream >= 0 {
		info, serr := p.streamOfKind(cfg.VideoStream, av.KindVideo)
		if serr != nil {
			return setupErr("video stream", serr)
		}
		req := cfg.VideoFormat
		if req != nil && p.flags&InitHardwareDecode == 0 {
			swReq := *req
			swReq.HWDeviceTypes = 0
			req = &swReq
		}
		// Video writes the clock only when it is the sync authority.
		p.video, err = decode.NewVideo(
			p.backend, info, base.Derive(cfg.AudioStream < 0), req,
			threads, config.Get(config.KeyVideoBufferFrames), p.log,
		)
		if err != nil {
			return setupErr("video decoder", err)
		}
	}

	if cfg.SubtitleStream >= 0 {
		p.subtitle, err = p.newSubtitleDecoder(base, cfg.SubtitleStream)
		if err != nil {
			return err
		}
	}

	caps := [3]int{
		config.Get(config.KeyVideoBufferPackets),
		config.Get(config.KeyAudioBufferPackets),
		config.Get(config.KeySubtitleBufferPackets),
	}
	d := demux.New(p.src.c, cfg.VideoStream, cfg.AudioStream, cfg.SubtitleStream, caps, p.log)
	p.worker = demux.NewWorker(d, p.log)

	p.clk = base
	p.startThreads()
	return nil
}

// newSubtitleDecoder opens a subtitle decoder for the stream, including
// the typesetter for script streams when script subtitles were enabled at
// Init.
func (p *Player) newSubtitleDecoder(base *clock.Clock, streamIndex int) (*decode.Subtitle, error) {
	info, err := p.streamOfKind(streamIndex, av.KindSubtitle)
	if err != nil {
		return nil, setupErr("subtitle stream", err)
	}

	var typesetter av.Typesetter
	if decode.ModeForCodec(info.Codec) == decode.ModeScript {
		if p.flags&InitScriptSubtitles == 0 {
			return nil, setupErr("subtitle decoder", ErrNotInitialized)
		}
		typesetter, err = p.backend.NewTypesetter()
		if err != nil {
			return nil, setupErr("typesetter", err)
		}
	}

	videoW, videoH := 0, 0
	if p.video != nil {
		out := p.video.OutputFormat()
		videoW, videoH = out.Width, out.Height
	}
	sub, err := decode.NewSubtitle(
		p.backend, p.src.c.Streams(), info, base.Derive(true),
		typesetter, av.FontHinting(config.Get(config.KeyFontHinting)),
		p.cfg.ScreenWidth, p.cfg.ScreenHeight, videoW, videoH,
		config.Get(config.KeySubtitleBufferFrames), p.log,
	)
	if err != nil {
		if typesetter != nil {
			typesetter.Close()
		}
		return nil, setupErr("subtitle decoder", err)
	}
	return sub, nil
}

// startThreads launches the demuxer worker and one decoder worker per
// selected stream. Workers run for the player's whole life; the state
// machine only gates data release.
func (p *Player) startThreads() {
	d := p.worker.Demuxer()
	if p.audio != nil {
		p.audioThread = decode.NewThread(d.Buffer(demux.IndexAudio), p.audio, "audio-worker", p.log)
	}
	if p.video != nil {
		p.videoThread = decode.NewThread(d.Buffer(demux.IndexVideo), p.video, "video-worker", p.log)
	}
	if p.subtitle != nil {
		p.subThread = decode.NewThread(d.Buffer(demux.IndexSubtitle), p.subtitle, "subtitle-worker", p.log)
	}
	p.worker.Start()
	for _, t := range []*decode.Thread{p.audioThread, p.videoThread, p.subThread} {
		if t != nil {
			t.Start()
		}
	}
}

// stopThreads halts every worker, waiting for each. Stops run in
// parallel: each worker needs its queues signaled, and a serial wait
// could stall behind a blocked neighbor.
func (p *Player) stopThreads() {
	var g errgroup.Group
	if p.worker != nil {
		g.Go(func() error { p.worker.Stop(); return nil })
	}
	for _, t := range []*decode.Thread{p.subThread, p.videoThread, p.audioThread} {
		if t != nil {
			g.Go(func() error { t.Stop(); return nil })
		}
	}
	g.Wait()
}

// teardown closes decoders in reverse dependency order and releases the
// demuxer queues. Workers must already be stopped.
func (p *Player) teardown() {
	if p.subtitle != nil {
		p.subtitle.Close()
		p.subtitle = nil
	}
	if p.video != nil {
		p.video.Close()
		p.video = nil
	}
	if p.audio != nil {
		p.audio.Close()
		p.audio = nil
	}
	if p.worker != nil {
		p.worker.Demuxer().Flush()
		p.worker = nil
	}
	p.audioThread, p.videoThread, p.subThread = nil, nil, nil
}

// Close stops every worker and tears the pipeline down. The source is
// released, not closed. Safe to call more than once.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}
	p.state = StateClosed

	if p.worker != nil {
		p.worker.Demuxer().Signal()
	}
	if p.audio != nil {
		p.audio.Signal()
	}
	if p.video != nil {
		p.video.Signal()
	}
	if p.subtitle != nil {
		p.subtitle.Signal()
	}
	p.stopThreads()
	p.teardown()
	if p.clk != nil {
		p.clk.Close()
		p.clk = nil
	}
	p.src.release()
}

// State returns the current playback state. A playing pipeline that has
// fully drained after end of stream reports stopped.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeFinish()
	return p.state
}

// maybeFinish moves playing → stopped once the container is exhausted and
// every queue has drained, so end of playback is observable. Caller holds
// the mutex.
func (p *Player) maybeFinish() {
	if p.state != StatePlaying || p.worker == nil || !p.worker.EOF() {
		return
	}
	d := p.worker.Demuxer()
	for _, idx := range []demux.Index{demux.IndexVideo, demux.IndexAudio, demux.IndexSubtitle} {
		if l, _, _ := d.BufferState(idx); l > 0 {
			return
		}
	}
	if p.audio != nil && !p.audio.Drained() {
		return
	}
	if p.video != nil {
		if l, _ := p.video.OutputState(); l > 0 {
			return
		}
	}
	p.state = StateStopped
}

// Play starts or resumes playback. Resuming adds the paused wall time to
// the clock base so elapsed playback time is preserved.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StatePaused:
		p.clk.AddBase(clock.Now() - p.pauseStarted)
		p.state = StatePlaying
	case StateStopped:
		p.clk.SetBase()
		p.state = StatePlaying
	}
}

// Pause suspends data release while background decoding continues.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return
	}
	p.state = StatePaused
	p.pauseStarted = clock.Now()
}

// Stop halts playback. The pipeline keeps its buffers; a later Play sets
// the clock base to now, so elapsed clock time restarts from zero.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePlaying || p.state == StatePaused {
		p.state = StateStopped
	}
}

// Seek repositions playback to the given time in seconds, clamped to the
// source duration. The demuxer flushes and emits seek markers; the
// decoders re-anchor the clock at the first post-seek frame, so the final
// position reflects what was actually decoded rather than the request.
func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return ErrClosed
	}
	if seconds < 0 {
		seconds = 0
	}
	if duration := p.src.Duration(); duration >= 0 && seconds > duration {
		seconds = duration
	}
	return p.worker.Seek(int64(seconds * 1e6))
}

// Duration returns the source duration in seconds.
func (p *Player) Duration() float64 {
	return p.src.Duration()
}

// Position returns the presentation timestamp of the most recently
// delivered output of the sync-authoritative stream.
func (p *Player) Position() float64 {
	p.mu.Lock()
	audio, video := p.audio, p.video
	p.mu.Unlock()
	switch {
	case audio != nil:
		return audio.Position()
	case video != nil:
		return video.Position()
	default:
		return 0
	}
}

// Info reports codec and output format details for the selected streams.
func (p *Player) Info() PlayerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var info PlayerInfo
	if p.video != nil {
		info.VideoCodec = p.video.CodecInfo()
		info.VideoFormat = p.video.OutputFormat()
	}
	if p.audio != nil {
		info.AudioCodec = p.audio.CodecInfo()
		info.AudioFormat = p.audio.OutputFormat()
	}
	if p.subtitle != nil {
		info.SubtitleCodec = p.subtitle.CodecInfo()
		info.SubtitleFormat = p.subtitle.OutputFormat()
	}
	return info
}

// SetScreenSize updates the subtitle rendering resolution. Takes effect
// only for script subtitles; bitmap streams keep their original scaling.
func (p *Player) SetScreenSize(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subtitle == nil {
		return
	}
	p.cfg.ScreenWidth, p.cfg.ScreenHeight = w, h
	p.subtitle.SetScreenSize(w, h)
}

// AudioData copies up to len(dst) bytes of on-time PCM into dst and
// returns the byte count. backendQueuedBytes reports how much the host's
// audio device still has buffered; it is informational, and silence
// insertion on underrun is the caller's concern. Returns 0 while not
// playing.
func (p *Player) AudioData(backendQueuedBytes int, dst []byte) (int, error) {
	p.mu.Lock()
	audio := p.audio
	st := p.state
	p.maybeFinish()
	p.mu.Unlock()

	if st == StateClosed {
		return 0, ErrClosed
	}
	if audio == nil {
		return 0, ErrNoStream
	}
	if st != StatePlaying {
		return 0, nil
	}
	_ = backendQueuedBytes
	return audio.ReadData(dst), nil
}

// VideoTexture uploads the next on-time frame into the caller's texture.
// Returns false when no frame is due yet. area, when non-nil, receives
// the frame's content extent, which can change mid-stream.
func (p *Player) VideoTexture(tex av.Texture, area *image.Rectangle) (bool, error) {
	p.mu.Lock()
	video := p.video
	st := p.state
	p.maybeFinish()
	p.mu.Unlock()

	if st == StateClosed {
		return false, ErrClosed
	}
	if video == nil {
		return false, ErrNoStream
	}
	if st != StatePlaying {
		return false, nil
	}
	return video.Texture(tex, area)
}

// LockVideoRawFrame exposes the next on-time frame's planes without a
// copy. On success the caller must call UnlockVideoRawFrame before any
// other video operation.
func (p *Player) LockVideoRawFrame(area *image.Rectangle) (planes [][]byte, linesizes []int, ok bool, err error) {
	p.mu.Lock()
	video := p.video
	st := p.state
	p.mu.Unlock()

	if st == StateClosed {
		return nil, nil, false, ErrClosed
	}
	if video == nil {
		return nil, nil, false, ErrNoStream
	}
	if st != StatePlaying {
		return nil, nil, false, nil
	}
	return video.LockFrame(area)
}

// UnlockVideoRawFrame returns a locked frame to the pipeline.
func (p *Player) UnlockVideoRawFrame() {
	p.mu.Lock()
	video := p.video
	p.mu.Unlock()
	if video != nil {
		video.Unlock()
	}
}

// SubtitleTexture packs the currently visible subtitle surfaces into the
// caller's atlas texture and fills up to limit (source, target) pairs.
// While paused it returns the already-packed set without consuming new
// surfaces.
func (p *Player) SubtitleTexture(tex av.Texture, sources, targets []image.Rectangle, limit int) (int, error) {
	p.mu.Lock()
	sub := p.subtitle
	st := p.state
	p.mu.Unlock()

	if st == StateClosed {
		return 0, ErrClosed
	}
	if sub == nil {
		return 0, ErrNoStream
	}
	switch st {
	case StatePaused:
		return sub.CurrentItems(sources, targets, limit), nil
	case StatePlaying:
		return sub.Texture(tex, sources, targets, limit)
	default:
		return 0, nil
	}
}

// SubtitleRawFrames returns the currently visible subtitle surfaces as
// RGBA pixel slices with source extents and screen target rectangles.
// The slices stay valid until the next subtitle call.
func (p *Player) SubtitleRawFrames() (items [][]byte, sources, targets []image.Rectangle, err error) {
	p.mu.Lock()
	sub := p.subtitle
	st := p.state
	p.mu.Unlock()

	if st == StateClosed {
		return nil, nil, nil, ErrClosed
	}
	if sub == nil {
		return nil, nil, nil, ErrNoStream
	}
	if st != StatePlaying {
		return nil, nil, nil, nil
	}
	return sub.RawFrames()
}

// AspectRatio returns the sample aspect ratio of the video, trying the
// current frame first, then the stream's codec-level value.
func (p *Player) AspectRatio() (num, den int, err error) {
	p.mu.Lock()
	video := p.video
	streamIdx := p.cfg.VideoStream
	p.mu.Unlock()

	if video == nil {
		return 0, 0, ErrNoStream
	}
	if sar := video.SampleAspectRatio(); !sar.IsZero() {
		return sar.Num, sar.Den, nil
	}
	if info, serr := p.src.StreamInfo(streamIdx); serr == nil && !info.SampleAspectRatio.IsZero() {
		return info.SampleAspectRatio.Num, info.SampleAspectRatio.Den, nil
	}
	return 0, 0, ErrNoStream
}
