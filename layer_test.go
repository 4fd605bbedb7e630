package spritecomposer

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerFromImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 13, 12))
	src.Set(10, 10, color.RGBA{R: 255, A: 255})
	src.Set(12, 11, color.RGBA{R: 64, G: 32, B: 16, A: 255})

	l := LayerFromImage(src, image.Pt(-4, 7))
	require.True(t, l.Valid())
	assert.Equal(t, 3, l.W)
	assert.Equal(t, 2, l.H)
	assert.Equal(t, 4, l.Channels)
	assert.Equal(t, image.Rect(-4, 7, -1, 9), l.Bounds())
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, pixel(t, l, 0, 0))
	assert.Equal(t, [4]uint8{64, 32, 16, 255}, pixel(t, l, 2, 1))
	assert.Equal(t, [4]uint8{}, pixel(t, l, 1, 0))
}

func TestLayerFromImage_CopiesNRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.Pix[0] = 7
	l := LayerFromImage(src, image.Point{})
	src.Pix[0] = 8
	assert.Equal(t, uint8(7), l.Pix[0])
}

func TestLayer_ToRGBA(t *testing.T) {
	rgb := NewLayer(2, 1, 3, 5, 6)
	rgb.Set(0, 0, 1, 2, 3, 0)
	rgb.Set(1, 0, 4, 5, 6, 0)

	out := rgb.ToRGBA()
	require.True(t, out.Valid())
	assert.Equal(t, 4, out.Channels)
	assert.Equal(t, 5, out.X)
	assert.Equal(t, 6, out.Y)
	assert.Equal(t, [4]uint8{1, 2, 3, 255}, pixel(t, out, 0, 0))
	assert.Equal(t, [4]uint8{4, 5, 6, 255}, pixel(t, out, 1, 0))
}

func TestLayer_AtOutside(t *testing.T) {
	l := NewLayer(1, 1, 4, 0, 0)
	_, _, _, _, ok := l.At(1, 0)
	assert.False(t, ok)
	assert.False(t, l.Set(-1, 0, 0, 0, 0, 0))
}

func TestLayer_Image(t *testing.T) {
	l := solid(2, 2, 3, 3, 10, 20, 30, 40)
	img := l.Image()
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 40}, img.At(1, 1))

	rgb := NewLayer(1, 1, 3, 0, 0)
	rgb.Set(0, 0, 9, 8, 7, 0)
	assert.Equal(t, color.RGBA{R: 9, G: 8, B: 7, A: 255}, rgb.Image().At(0, 0))
}
