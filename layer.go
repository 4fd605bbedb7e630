package spritecomposer

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Layer is an 8-bit raster anchored at (X, Y) in the shared absolute space.
// Pix holds W*H*Channels interleaved samples, row-major, non-premultiplied.
type Layer struct {
	W, H     int
	Channels int // 3 (RGB) or 4 (RGBA)
	X, Y     int
	Pix      []uint8
}

// NewLayer allocates a fully transparent (zeroed) layer.
func NewLayer(w, h, channels, x, y int) *Layer {
	return &Layer{
		W:        w,
		H:        h,
		Channels: channels,
		X:        x,
		Y:        y,
		Pix:      make([]uint8, w*h*channels),
	}
}

// LayerFromImage converts any decoded image into a 4-channel layer anchored at anchor.
func LayerFromImage(img image.Image, anchor image.Point) *Layer {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	l := &Layer{
		W:        b.Dx(),
		H:        b.Dy(),
		Channels: 4,
		X:        anchor.X,
		Y:        anchor.Y,
		Pix:      make([]uint8, len(nrgba.Pix)),
	}
	copy(l.Pix, nrgba.Pix)
	return l
}

// Valid reports whether the buffer matches the declared geometry.
func (l *Layer) Valid() bool {
	return l != nil &&
		l.W > 0 && l.H > 0 &&
		(l.Channels == 3 || l.Channels == 4) &&
		len(l.Pix) == l.W*l.H*l.Channels
}

// Bounds returns the absolute bounding box of the layer.
func (l *Layer) Bounds() image.Rectangle {
	return image.Rect(l.X, l.Y, l.X+l.W, l.Y+l.H)
}

// Clone returns a deep copy.
func (l *Layer) Clone() *Layer {
	c := *l
	c.Pix = make([]uint8, len(l.Pix))
	copy(c.Pix, l.Pix)
	return &c
}

func (l *Layer) offset(x, y int) int {
	return (y*l.W + x) * l.Channels
}

// At returns the RGBA sample at local coordinates; RGB layers report alpha 255.
func (l *Layer) At(x, y int) (r, g, b, a uint8, ok bool) {
	if x < 0 || y < 0 || x >= l.W || y >= l.H {
		return 0, 0, 0, 0, false
	}
	off := l.offset(x, y)
	r, g, b = l.Pix[off], l.Pix[off+1], l.Pix[off+2]
	a = 255
	if l.Channels == 4 {
		a = l.Pix[off+3]
	}
	return r, g, b, a, true
}

// Set writes a sample at local coordinates. Alpha is dropped on RGB layers.
func (l *Layer) Set(x, y int, r, g, b, a uint8) bool {
	if x < 0 || y < 0 || x >= l.W || y >= l.H {
		return false
	}
	off := l.offset(x, y)
	l.Pix[off], l.Pix[off+1], l.Pix[off+2] = r, g, b
	if l.Channels == 4 {
		l.Pix[off+3] = a
	}
	return true
}

// ToRGBA returns a 4-channel copy; RGB samples become opaque.
func (l *Layer) ToRGBA() *Layer {
	if l.Channels == 4 {
		return l.Clone()
	}
	out := NewLayer(l.W, l.H, 4, l.X, l.Y)
	for y := range l.H {
		for x := range l.W {
			r, g, b, a, _ := l.At(x, y)
			out.Set(x, y, r, g, b, a)
		}
	}
	return out
}

// Image exposes the layer as an image.Image with its origin at (0, 0).
func (l *Layer) Image() image.Image {
	if l.Channels == 4 {
		return &image.NRGBA{
			Pix:    l.Pix,
			Stride: l.W * 4,
			Rect:   image.Rect(0, 0, l.W, l.H),
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, l.W, l.H))
	for y := range l.H {
		for x := range l.W {
			r, g, b, _, _ := l.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}
