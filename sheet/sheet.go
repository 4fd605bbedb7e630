// Package sheet lays out thumbnails of composed outputs on one image per group.
package sheet

import (
	"image"
	"image/color"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Suffix is appended to the group key to name a contact sheet.
const Suffix = "_sheet.png"

type cell struct {
	index int
	img   *image.NRGBA
}

// Sheets is safe for concurrent Add calls.
type Sheets struct {
	mu    sync.Mutex
	thumb int
	cells map[string][]cell
}

func New(thumb int) *Sheets {
	return &Sheets{thumb: max(thumb, 1), cells: make(map[string][]cell)}
}

// Add shrinks img to fit a thumbnail and files it under group. index fixes the
// position on the sheet.
func (s *Sheets) Add(group string, index int, img image.Image) {
	t := imaging.Fit(img, s.thumb, s.thumb, imaging.Lanczos)
	s.mu.Lock()
	s.cells[group] = append(s.cells[group], cell{index: index, img: t})
	s.mu.Unlock()
}

func (s *Sheets) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.cells))
}

// Render places the group's thumbnails on a square-ish grid, row-major, in index order.
func (s *Sheets) Render(group string) *image.NRGBA {
	s.mu.Lock()
	cells := slices.Clone(s.cells[group])
	s.mu.Unlock()
	if len(cells) == 0 {
		return nil
	}
	slices.SortFunc(cells, func(a, b cell) int { return a.index - b.index })

	cols := 1
	for cols*cols < len(cells) {
		cols++
	}
	rows := (len(cells) + cols - 1) / cols

	canvas := imaging.New(cols*s.thumb, rows*s.thumb, color.NRGBA{})
	for i, c := range cells {
		b := c.img.Bounds()
		x := (i%cols)*s.thumb + (s.thumb-b.Dx())/2
		y := (i/cols)*s.thumb + (s.thumb-b.Dy())/2
		canvas = imaging.Overlay(canvas, c.img, image.Pt(x, y), 1.0)
	}
	return canvas
}

// WriteAll saves one sheet per group into dir and returns the written paths.
func (s *Sheets) WriteAll(dir string) ([]string, error) {
	var written []string
	for _, g := range s.Groups() {
		img := s.Render(g)
		if img == nil {
			continue
		}
		path := filepath.Join(dir, g+Suffix)
		if err := imaging.Save(img, path); err != nil {
			return written, errors.Wrapf(err, "save sheet %s", g)
		}
		written = append(written, path)
	}
	return written, nil
}
