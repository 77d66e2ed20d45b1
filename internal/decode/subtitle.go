package decode

import (
	"errors"
	"image"
	"log/slog"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/atlas"
	"github.com/zsiec/refract/internal/clock"
	"github.com/zsiec/refract/internal/ring"
)

// ErrAtlasFull is returned when the visible subtitle set cannot be packed
// into the caller's texture even after a full repack; the caller should
// provide a larger texture.
var ErrAtlasFull = errors.New("decode: subtitle atlas full")

// fontMIMEs lists the attachment MIME types recognized as embedded fonts
// for the script typesetter.
var fontMIMEs = []string{
	"application/x-font-ttf",
	"application/x-font-truetype",
	"application/x-truetype-font",
	"application/x-font-opentype",
	"application/vnd.ms-opentype",
	"application/font-sfnt",
}

// IsFontAttachment reports whether a stream is an embedded font usable by
// the script typesetter.
func IsFontAttachment(stream av.StreamInfo) bool {
	if stream.Kind != av.KindAttachment {
		return false
	}
	mime := stream.Metadata["mimetype"]
	for _, m := range fontMIMEs {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

// visibleSurface tracks the display window of one atlas item, parallel to
// the atlas item table.
type visibleSurface struct {
	end    float64
	sticky bool
}

// Subtitle decodes one subtitle stream into timed surfaces and serves
// them to the caller as a packed texture atlas or raw frames. The decode
// half runs on the worker goroutine; the consuming half runs only on the
// caller's thread, so the atlas needs no locking.
type Subtitle struct {
	log    *slog.Logger
	stream av.StreamInfo
	dec    av.SubtitleDecoder
	ren    renderer
	mode   Mode
	clk    *clock.Clock
	out    *ring.Buffer[*surface]

	scratchSub av.Subtitle
	drained    surface

	// Bitmap surfaces arrive in video coordinates and are mapped to the
	// screen with these factors, fixed at construction. Script surfaces
	// are already rendered at screen resolution.
	scaleX float64
	scaleY float64

	atl     *atlas.Atlas
	pending []surface
	visible []visibleSurface

	rawItems   [][]byte
	rawSources []image.Rectangle
	rawTargets []image.Rectangle
}

// NewSubtitle opens the stream's codec and picks the rendering mode from
// its codec family. streams is the container's full stream table, scanned
// for font attachments when the mode is script. typesetter is nil unless
// script subtitles were enabled at library init.
func NewSubtitle(
	backend av.Backend,
	streams []av.StreamInfo,
	stream av.StreamInfo,
	clk *clock.Clock,
	typesetter av.Typesetter,
	hinting av.FontHinting,
	screenW, screenH int,
	videoW, videoH int,
	outCapacity int,
	log *slog.Logger,
) (*Subtitle, error) {
	if log == nil {
		log = slog.Default()
	}
	mode := ModeForCodec(stream.Codec)
	if mode == ModeDisabled {
		return nil, errors.New("decode: unsupported subtitle codec " + stream.CodecName)
	}

	dec, err := backend.NewSubtitleDecoder(stream)
	if err != nil {
		return nil, err
	}

	out := ring.New[*surface](outCapacity, surfaceOps{})
	s := &Subtitle{
		log:    log.With("component", "subtitle-decoder", "stream", stream.Index),
		stream: stream,
		dec:    dec,
		mode:   mode,
		clk:    clk,
		out:    out,
		scaleX: 1,
		scaleY: 1,
		atl:    atlas.New(screenW, screenH),
	}

	switch mode {
	case ModeScript:
		if typesetter == nil {
			dec.Close()
			return nil, errors.New("decode: script subtitles not initialized")
		}
		typesetter.SetFrameSize(screenW, screenH)
		typesetter.SetHinting(hinting)
		for _, st := range streams {
			if !IsFontAttachment(st) {
				continue
			}
			name := st.Metadata["filename"]
			if name == "" {
				continue
			}
			typesetter.AddFont(name, st.CodecPrivate)
		}
		if len(stream.CodecPrivate) > 0 {
			typesetter.ProcessHeader(stream.CodecPrivate)
		}
		s.ren = newScriptRenderer(typesetter, out, stream.TimeBase.Float())
	case ModeBitmap:
		if videoW > 0 && videoH > 0 && screenW > 0 && screenH > 0 {
			s.scaleX = float64(screenW) / float64(videoW)
			s.scaleY = float64(screenH) / float64(videoH)
		}
		s.ren = newImageRenderer(out, stream.TimeBase.Float())
	}

	return s, nil
}

// Mode returns the rendering mode picked for the stream.
func (s *Subtitle) Mode() Mode { return s.mode }

// OutputFormat describes the surface pixel layout: always RGBA.
func (s *Subtitle) OutputFormat() av.SubtitleOutputFormat {
	return av.SubtitleOutputFormat{}
}

// SubmitPacket decodes one packet and renders any completed event into
// the output queue. Subtitle codecs are synchronous, so decode and render
// happen here and DecodeFrame has nothing to drain.
func (s *Subtitle) SubmitPacket(pkt *av.Packet) error {
	got, err := s.dec.Decode(pkt, &s.scratchSub)
	if err != nil {
		return err
	}
	if got {
		s.ren.Render(&s.scratchSub)
		s.scratchSub = av.Subtitle{}
	}
	return nil
}

// DecodeFrame reports no pending work: rendering happens in SubmitPacket.
func (s *Subtitle) DecodeFrame() (float64, bool) { return 0, false }

// Flush drops codec state and queued surfaces. Typesetter script state
// survives; it handles time jumps itself.
func (s *Subtitle) Flush() {
	s.dec.Flush()
	s.out.Flush()
}

// Signal wakes a render blocked on the full output queue.
func (s *Subtitle) Signal() { s.out.Signal() }

// Clock returns the decoder's clock handle.
func (s *Subtitle) Clock() *clock.Clock { return s.clk }

// OutputState reports output queue fill.
func (s *Subtitle) OutputState() (int, int) { return s.out.Len(), s.out.Cap() }

// StreamIndex returns the container stream this decoder consumes.
func (s *Subtitle) StreamIndex() int { return s.stream.Index }

// CodecInfo returns the opened codec description.
func (s *Subtitle) CodecInfo() av.CodecInfo { return s.dec.Info() }

// SetScreenSize updates the script rendering resolution. Bitmap streams
// keep their construction-time scaling.
func (s *Subtitle) SetScreenSize(w, h int) {
	s.ren.SetScreenSize(w, h)
}

func (s *Subtitle) clearVisible() {
	s.atl.Clear()
	s.visible = s.visible[:0]
}

// resetVisible also drops queued future surfaces; used on close and
// stream teardown.
func (s *Subtitle) resetVisible() {
	s.clearVisible()
	s.pending = s.pending[:0]
}

// dropSticky removes surfaces with no end time; they live until the next
// event, which is now arriving.
func (s *Subtitle) dropSticky() {
	for i := len(s.visible) - 1; i >= 0; i-- {
		if s.visible[i].sticky {
			s.atl.Remove(i)
			s.visible = append(s.visible[:i], s.visible[i+1:]...)
		}
	}
}

// refresh drains newly rendered surfaces, promotes the ones whose
// display window has opened, and expires surfaces whose window has
// passed. Surfaces dated in the future wait in the pending queue.
func (s *Subtitle) refresh(now float64) {
	for s.out.Read(&s.drained, 0) {
		s.pending = append(s.pending, s.drained)
		s.drained = surface{}
	}

	for len(s.pending) > 0 && s.pending[0].ptsStart <= now {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.apply(&ev, now)
	}

	for i := len(s.visible) - 1; i >= 0; i-- {
		if v := s.visible[i]; !v.sticky && v.end < now {
			s.atl.Remove(i)
			s.visible = append(s.visible[:i], s.visible[i+1:]...)
		}
	}
}

// apply makes one due surface part of the visible set, honoring the
// mode's replacement semantics. A multi-rect bitmap event arrives as one
// surface per rect; replacement runs only on the leading surface so later
// rects cannot wipe their own siblings.
func (s *Subtitle) apply(ev *surface, now float64) {
	if s.mode == ModeScript && ev.first {
		// Each script emission replaces the whole scene.
		s.clearVisible()
	}
	if ev.clear {
		if s.mode == ModeBitmap {
			s.clearVisible()
		}
		return
	}
	if s.mode == ModeBitmap && ev.first {
		s.dropSticky()
	}
	if ev.ptsEnd >= 0 && ev.ptsEnd < now {
		return
	}
	s.addVisible(ev)
}

// addVisible maps a surface to screen coordinates and adds it to the
// atlas. Bitmap surfaces are resampled to their on-screen size so atlas
// blits stay 1:1.
func (s *Subtitle) addVisible(ev *surface) {
	img := ev.img
	x, y := ev.x, ev.y
	w, h := img.Rect.Dx(), img.Rect.Dy()

	if s.mode == ModeBitmap && (s.scaleX != 1 || s.scaleY != 1) {
		x = int(float64(x) * s.scaleX)
		y = int(float64(y) * s.scaleY)
		w = max(int(float64(w)*s.scaleX), 1)
		h = max(int(float64(h)*s.scaleY), 1)
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Rect, img, img.Rect, xdraw.Src, nil)
		img = scaled
	}

	s.atl.Add(img, image.Rect(x, y, x+w, y+h))
	s.visible = append(s.visible, visibleSurface{
		end:    ev.ptsEnd,
		sticky: ev.ptsEnd < 0,
	})
}

// pack lays out the visible set, retrying once from scratch so space
// freed by removed items is reclaimed before giving up.
func (s *Subtitle) pack() error {
	if err := s.atl.Pack(); err == nil {
		return nil
	}
	s.atl.Reset()
	if err := s.atl.Pack(); err != nil {
		return ErrAtlasFull
	}
	return nil
}

// Texture refreshes the visible set, packs it into the caller's atlas
// texture, and fills up to limit (source, target) rectangle pairs.
func (s *Subtitle) Texture(tex av.Texture, sources, targets []image.Rectangle, limit int) (int, error) {
	s.refresh(s.clk.Elapsed())
	if err := s.pack(); err != nil {
		return 0, err
	}
	if err := s.atl.Blit(tex); err != nil {
		return 0, err
	}
	return s.atl.Items(sources, targets, limit), nil
}

// CurrentItems returns the already-packed items without consuming new
// surfaces, for paused readback.
func (s *Subtitle) CurrentItems(sources, targets []image.Rectangle, limit int) int {
	return s.atl.Items(sources, targets, limit)
}

// RawFrames refreshes the visible set and returns per-surface pixel
// slices with their source extents and screen target rectangles. The
// returned slices are valid until the next consuming call.
func (s *Subtitle) RawFrames() (items [][]byte, sources, targets []image.Rectangle, err error) {
	s.refresh(s.clk.Elapsed())

	s.rawItems = s.rawItems[:0]
	s.rawSources = s.rawSources[:0]
	s.rawTargets = s.rawTargets[:0]
	for i := 0; i < s.atl.Len(); i++ {
		it := s.atl.ItemAt(i)
		s.rawItems = append(s.rawItems, it.Surface.Pix)
		s.rawSources = append(s.rawSources, it.Surface.Rect)
		s.rawTargets = append(s.rawTargets, it.Target)
	}
	return s.rawItems, s.rawSources, s.rawTargets, nil
}

// Close releases the renderer, codec, queued surfaces, and clock handle.
func (s *Subtitle) Close() error {
	s.out.Flush()
	s.resetVisible()
	err := s.ren.Close()
	if derr := s.dec.Close(); err == nil {
		err = derr
	}
	s.clk.Close()
	return err
}
