package decode

import (
	"image"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/ring"
)

// scriptRenderer drives the external typesetter for SSA/ASS streams. The
// typesetter holds persistent script state (headers, processed events,
// attached fonts); each emission wholly replaces the previous scene, so
// no explicit clear packets are needed between changes.
type scriptRenderer struct {
	ts       av.Typesetter
	out      *ring.Buffer[*surface]
	timeBase float64
	scratch  surface
}

func newScriptRenderer(ts av.Typesetter, out *ring.Buffer[*surface], timeBase float64) *scriptRenderer {
	return &scriptRenderer{ts: ts, out: out, timeBase: timeBase}
}

func (r *scriptRenderer) Render(sub *av.Subtitle) {
	for i := range sub.Rects {
		if line := sub.Rects[i].Text; line != "" {
			r.ts.ProcessLine(line)
		}
	}

	start, end := displayWindow(sub, r.timeBase)
	glyphs, changed := r.ts.RenderFrame(int64(start * 1000))
	if !changed {
		return
	}
	if len(glyphs) == 0 {
		r.scratch = surface{ptsStart: start, ptsEnd: end, clear: true, first: true}
		r.out.Write(&r.scratch)
		return
	}

	// Bounding box over all glyphs; the composited surface covers it.
	x0, y0 := glyphs[0].DstX, glyphs[0].DstY
	x1, y1 := x0, y0
	for _, g := range glyphs {
		if g.DstX < x0 {
			x0 = g.DstX
		}
		if g.DstY < y0 {
			y0 = g.DstY
		}
		if g.DstX+g.W > x1 {
			x1 = g.DstX + g.W
		}
		if g.DstY+g.H > y1 {
			y1 = g.DstY + g.H
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0))
	for _, g := range glyphs {
		if g.W == 0 || g.H == 0 {
			continue
		}
		blendGlyph(img, &g, x0, y0)
	}

	r.scratch = surface{ptsStart: start, ptsEnd: end, x: x0, y: y0, img: img, first: true}
	r.out.Write(&r.scratch)
}

func (r *scriptRenderer) SetScreenSize(w, h int) {
	r.ts.SetFrameSize(w, h)
}

func (r *scriptRenderer) Close() error {
	return r.ts.Close()
}

// blendGlyph composites one alpha-mask glyph over the surface. The glyph
// color is 0xRRGGBBAA with AA as transparency; each mask byte scales the
// effective alpha. Overlapping glyphs blend with the usual over operator
// on non-premultiplied RGBA.
func blendGlyph(img *image.RGBA, g *av.Glyph, minX, minY int) {
	cr := byte(g.Color >> 24)
	cg := byte(g.Color >> 16)
	cb := byte(g.Color >> 8)
	ca := byte(g.Color)

	posX := g.DstX - minX
	posY := g.DstY - minY
	for y := 0; y < g.H; y++ {
		src := g.Bitmap[y*g.Stride:]
		dst := img.Pix[(posY+y)*img.Stride:]
		for x := 0; x < g.W; x++ {
			an := uint32(255-ca) * uint32(src[x]) >> 8
			off := (posX + x) * 4
			ao := uint32(dst[off+3])
			if ao == 0 {
				dst[off+0] = cr
				dst[off+1] = cg
				dst[off+2] = cb
				dst[off+3] = byte(an)
				continue
			}
			outA := 255 - (255-ao)*(255-an)/255
			dst[off+3] = byte(outA)
			if outA != 0 {
				dst[off+0] = byte((uint32(dst[off+0])*ao*(255-an)/255 + uint32(cr)*an) / outA)
				dst[off+1] = byte((uint32(dst[off+1])*ao*(255-an)/255 + uint32(cg)*an) / outA)
				dst[off+2] = byte((uint32(dst[off+2])*ao*(255-an)/255 + uint32(cb)*an) / outA)
			}
		}
	}
}
