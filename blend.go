package spritecomposer

import (
	"github.com/pkg/errors"
)

// ============ CANVAS GROWTH ============

// grow returns a copy of l padded with transparent pixels on each side.
// The anchor moves by (-left, -top) so the existing content keeps its absolute position.
func grow(l *Layer, left, top, right, bottom int) *Layer {
	if left == 0 && top == 0 && right == 0 && bottom == 0 {
		return l.Clone()
	}
	out := NewLayer(l.W+left+right, l.H+top+bottom, l.Channels, l.X-left, l.Y-top)
	rowLen := l.W * l.Channels
	for y := range l.H {
		src := l.offset(0, y)
		dst := out.offset(left, y+top)
		copy(out.Pix[dst:dst+rowLen], l.Pix[src:src+rowLen])
	}
	return out
}

// ============ SOURCE-OVER BLEND ============

// Blend paints fg over bg and returns a new layer covering both.
//
// An offset of (0, 0) means "use the anchors": fg lands at fg.X-bg.X, fg.Y-bg.Y relative
// to bg. Any other offset places fg at bg's anchor plus the offset. Both layers must be RGBA.
func Blend(bg, fg *Layer, offsetX, offsetY int) (*Layer, error) {
	if !bg.Valid() {
		return nil, errors.Wrap(ErrInvalidLayer, "background")
	}
	if !fg.Valid() {
		return nil, errors.Wrap(ErrInvalidLayer, "foreground")
	}
	if bg.Channels != 4 || fg.Channels != 4 {
		return nil, errors.Wrapf(ErrChannelCount, "background has %d, foreground has %d", bg.Channels, fg.Channels)
	}

	dx, dy := offsetX, offsetY
	if dx == 0 && dy == 0 {
		dx = fg.X - bg.X
		dy = fg.Y - bg.Y
	}

	// left, top, right, bottom
	left := max(0, -dx)
	top := max(0, -dy)
	right := max(0, dx+fg.W-bg.W)
	bottom := max(0, dy+fg.H-bg.H)
	out := grow(bg, left, top, right, bottom)

	ox, oy := dx+left, dy+top
	for y := range fg.H {
		srcRow := fg.offset(0, y)
		dstRow := out.offset(ox, oy+y)
		for x := range fg.W {
			s := fg.Pix[srcRow+x*4 : srcRow+x*4+4 : srcRow+x*4+4]
			d := out.Pix[dstRow+x*4 : dstRow+x*4+4 : dstRow+x*4+4]
			over(d, s)
		}
	}
	return out, nil
}

// over composites one straight-alpha RGBA sample s onto d in place.
// All arithmetic truncates, matching 8-bit integer compositing.
func over(d, s []uint8) {
	a := int(s[3])
	inv := 255 - a
	d[0] = uint8((int(s[0])*a + int(d[0])*inv) / 255)
	d[1] = uint8((int(s[1])*a + int(d[1])*inv) / 255)
	d[2] = uint8((int(s[2])*a + int(d[2])*inv) / 255)
	d[3] = uint8(a + int(d[3])*inv/255)
}

// Compose seeds the canvas with a copy of layers[0] and blends every following
// layer on top, bottom -> top. RGB layers are promoted to opaque RGBA first.
func Compose(layers ...*Layer) (*Layer, error) {
	if len(layers) == 0 {
		return nil, errors.Wrap(ErrInvalidLayer, "nothing to compose")
	}
	if !layers[0].Valid() {
		return nil, errors.Wrap(ErrInvalidLayer, "base")
	}
	acc := layers[0].ToRGBA()
	for i, l := range layers[1:] {
		if l.Valid() && l.Channels == 3 {
			l = l.ToRGBA()
		}
		next, err := Blend(acc, l, 0, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i+1)
		}
		acc = next
	}
	return acc, nil
}
