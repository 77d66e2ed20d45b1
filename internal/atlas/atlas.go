// Package atlas packs many small subtitle bitmaps into one caller-owned
// texture using shelf packing: the texture is divided into horizontal
// strips, and each item occupies a slot on the shortest shelf it fits.
// Only the consuming thread touches an atlas; it needs no locking.
package atlas

import (
	"errors"
	"image"

	"github.com/zsiec/refract/av"
)

// MaxShelves bounds the number of horizontal strips in the texture.
const MaxShelves = 64

// ErrFull is returned when an item cannot be placed on any shelf and no
// vertical space remains for a new one.
var ErrFull = errors.New("atlas: texture full")

type shelf struct {
	usedW  int
	height int
	slots  int
}

// Item is one packed bitmap: its pixels, where they live inside the
// texture (Source) and where the renderer should draw them (Target).
type Item struct {
	Surface *image.RGBA
	Source  image.Rectangle
	Target  image.Rectangle

	shelf  int
	slot   int
	copied bool
}

// Atlas tracks shelf allocations over a w×h texture.
type Atlas struct {
	w, h    int
	shelves [MaxShelves]shelf
	items   []*Item
}

// New creates an atlas for a w×h texture.
func New(w, h int) *Atlas {
	return &Atlas{w: w, h: h}
}

// Size returns the extent the atlas currently packs against.
func (a *Atlas) Size() (w, h int) {
	return a.w, a.h
}

// Len returns the number of held items, placed or not.
func (a *Atlas) Len() int {
	return len(a.items)
}

// Add appends an unplaced item. The caller keeps no ownership of surface.
func (a *Atlas) Add(surface *image.RGBA, target image.Rectangle) *Item {
	it := &Item{
		Surface: surface,
		Target:  target,
		shelf:   -1,
		slot:    -1,
	}
	a.items = append(a.items, it)
	return it
}

// ItemAt returns the i'th held item, in insertion order.
func (a *Atlas) ItemAt(i int) *Item {
	return a.items[i]
}

// Remove drops the item at index i, keeping pack order for the rest.
// Placements of other items are unaffected; freed shelf space is only
// reclaimed by Reset.
func (a *Atlas) Remove(i int) {
	a.items = append(a.items[:i], a.items[i+1:]...)
}

// place finds a spot for one item: the fitting shelf of smallest height,
// or a fresh shelf carved from remaining vertical space.
func (a *Atlas) place(it *Item) error {
	w := it.Surface.Rect.Dx()
	h := it.Surface.Rect.Dy()

	bestIdx := -1
	bestH := 0
	nextShelf := -1
	reservedH := 0
	for idx := range a.shelves {
		s := &a.shelves[idx]
		if s.height == 0 {
			nextShelf = idx
			break
		}
		if w <= a.w-s.usedW && h <= s.height {
			if bestIdx == -1 || s.height < bestH {
				bestIdx = idx
				bestH = s.height
			}
		}
		reservedH += s.height
	}

	if bestIdx >= 0 {
		s := &a.shelves[bestIdx]
		y := 0
		for idx := 0; idx < bestIdx; idx++ {
			y += a.shelves[idx].height
		}
		it.shelf = bestIdx
		it.slot = s.slots
		it.Source = image.Rect(s.usedW, y, s.usedW+w, y+h)
		s.usedW += w
		s.slots++
		return nil
	}

	if nextShelf >= 0 && w <= a.w && h <= a.h-reservedH {
		s := &a.shelves[nextShelf]
		s.usedW = w
		s.height = h
		s.slots = 1
		it.shelf = nextShelf
		it.slot = 0
		it.Source = image.Rect(0, reservedH, w, reservedH+h)
		return nil
	}

	return ErrFull
}

// Pack places every unplaced item. On ErrFull, items placed so far keep
// their spots; the failing item and any after it stay unplaced.
func (a *Atlas) Pack() error {
	for _, it := range a.items {
		if it.shelf >= 0 {
			continue
		}
		if err := a.place(it); err != nil {
			return err
		}
	}
	return nil
}

// Blit uploads every placed-but-not-yet-copied item into texture. If the
// texture extent differs from the atlas extent, all placements are
// invalidated first and Pack re-runs against the new size.
func (a *Atlas) Blit(texture av.Texture) error {
	tw, th := texture.Size()
	if tw != a.w || th != a.h {
		a.w = tw
		a.h = th
		a.Reset()
		if err := a.Pack(); err != nil {
			return err
		}
	}
	for _, it := range a.items {
		if it.copied || it.shelf < 0 {
			continue
		}
		if err := texture.Update(it.Source, it.Surface.Pix, it.Surface.Stride); err != nil {
			return err
		}
		it.copied = true
	}
	return nil
}

// Items copies up to limit (source, target) rectangle pairs of placed
// items into the given slices and returns the count. Nil slices are
// skipped.
func (a *Atlas) Items(sources, targets []image.Rectangle, limit int) int {
	count := 0
	for _, it := range a.items {
		if count >= limit {
			break
		}
		if it.shelf < 0 {
			continue
		}
		if sources != nil {
			sources[count] = it.Source
		}
		if targets != nil {
			targets[count] = it.Target
		}
		count++
	}
	return count
}

// Reset clears shelves and per-item placement while retaining pixels, so
// a following Pack lays everything out again.
func (a *Atlas) Reset() {
	a.shelves = [MaxShelves]shelf{}
	for _, it := range a.items {
		it.shelf = -1
		it.slot = -1
		it.copied = false
	}
}

// Clear drops every item and all shelf state.
func (a *Atlas) Clear() {
	a.items = a.items[:0]
	a.shelves = [MaxShelves]shelf{}
}
