package decode

import (
	"image"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/ring"
)

// imageRenderer converts paletted bitmap rects to RGBA surfaces. It keeps
// no state between events; an event with no rects becomes a clear-all so
// expired surfaces leave the screen.
type imageRenderer struct {
	out      *ring.Buffer[*surface]
	timeBase float64
	scratch  surface
}

func newImageRenderer(out *ring.Buffer[*surface], timeBase float64) *imageRenderer {
	return &imageRenderer{out: out, timeBase: timeBase}
}

func (r *imageRenderer) Render(sub *av.Subtitle) {
	start, end := displayWindow(sub, r.timeBase)

	if len(sub.Rects) == 0 {
		r.scratch = surface{ptsStart: start, ptsEnd: end, clear: true, first: true}
		r.out.Write(&r.scratch)
		return
	}

	first := true
	for i := range sub.Rects {
		rect := &sub.Rects[i]
		if rect.Pixels == nil || rect.W <= 0 || rect.H <= 0 {
			continue
		}
		r.scratch = surface{
			ptsStart: start,
			ptsEnd:   end,
			x:        rect.X,
			y:        rect.Y,
			img:      expandPalette(rect),
			first:    first,
		}
		first = false
		if !r.out.Write(&r.scratch) {
			return
		}
	}
}

func (r *imageRenderer) SetScreenSize(w, h int) {}

func (r *imageRenderer) Close() error { return nil }

// expandPalette converts 8-bit indexed pixels to RGBA using the rect's
// palette.
func expandPalette(rect *av.SubtitleRect) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, rect.W, rect.H))
	for y := 0; y < rect.H; y++ {
		src := rect.Pixels[y*rect.Stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < rect.W; x++ {
			var c uint32
			if idx := int(src[x]); idx < len(rect.Palette) {
				c = rect.Palette[idx]
			}
			dst[x*4+0] = byte(c >> 24)
			dst[x*4+1] = byte(c >> 16)
			dst[x*4+2] = byte(c >> 8)
			dst[x*4+3] = byte(c)
		}
	}
	return img
}
