package avtest

import (
	"strconv"
	"strings"
	"sync"

	"github.com/zsiec/refract/av"
)

// Typesetter is a scripted script-subtitle renderer. Event lines use the
// form "startMs|endMs|text"; each active line renders as one fully
// opaque glyph whose width tracks the text length. Like a real
// typesetter it retains headers, fonts, and every processed line.
type Typesetter struct {
	mu       sync.Mutex
	w, h     int
	hinting  av.FontHinting
	header   []byte
	fonts    map[string][]byte
	events   []scriptEvent
	lastSeen string
	closed   bool
}

type scriptEvent struct {
	startMs int64
	endMs   int64
	text    string
}

func newTypesetter() *Typesetter {
	return &Typesetter{fonts: make(map[string][]byte)}
}

// SetFrameSize records the rendering resolution.
func (t *Typesetter) SetFrameSize(w, h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w, t.h = w, h
}

// SetHinting records the hinting mode.
func (t *Typesetter) SetHinting(h av.FontHinting) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hinting = h
}

// AddFont stores an attached font.
func (t *Typesetter) AddFont(name string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fonts[name] = append([]byte(nil), data...)
}

// Fonts returns the names of attached fonts, for test assertions.
func (t *Typesetter) Fonts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.fonts))
	for n := range t.fonts {
		names = append(names, n)
	}
	return names
}

// ProcessHeader stores the codec-private script header.
func (t *Typesetter) ProcessHeader(codecPrivate []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header = append([]byte(nil), codecPrivate...)
}

// ProcessLine parses one "startMs|endMs|text" event line.
func (t *Typesetter) ProcessLine(line string) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, scriptEvent{startMs: start, endMs: end, text: parts[2]})
}

// RenderFrame returns one glyph per active event, stacked vertically.
// The change flag reflects whether the active set differs from the
// previous render.
func (t *Typesetter) RenderFrame(nowMs int64) ([]av.Glyph, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var glyphs []av.Glyph
	var key strings.Builder
	row := 0
	for _, ev := range t.events {
		if nowMs < ev.startMs || nowMs >= ev.endMs {
			continue
		}
		key.WriteString(ev.text)
		key.WriteByte('\n')
		w := 8 * len(ev.text)
		if w == 0 {
			w = 8
		}
		h := 12
		bitmap := make([]byte, w*h)
		for i := range bitmap {
			bitmap[i] = 0xff
		}
		glyphs = append(glyphs, av.Glyph{
			Bitmap: bitmap,
			Stride: w,
			W:      w,
			H:      h,
			DstX:   16,
			DstY:   t.h - 32 - row*16,
			Color:  0xffffff00, // opaque white
		})
		row++
	}

	seen := key.String()
	changed := seen != t.lastSeen
	t.lastSeen = seen
	return glyphs, changed
}

// Close marks the typesetter unusable.
func (t *Typesetter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
