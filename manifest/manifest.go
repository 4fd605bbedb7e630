// Package manifest records what a composition run produced.
package manifest

import (
	"encoding/json"
	"image"
	"image/color"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/setanarut/spritecomposer/utils"
)

// FileName is written inside the output directory.
const FileName = "manifest.json"

type Bounds struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func BoundsOf(r image.Rectangle) Bounds {
	return Bounds{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Coverage summarizes the alpha channel, normalized to [0,1].
type Coverage struct {
	Opaque      float64 `json:"opaque"` // fraction of pixels with alpha > 0
	MeanAlpha   float64 `json:"mean"`
	StdDevAlpha float64 `json:"stddev"`
}

type Entry struct {
	Output     string   `json:"output"`
	Group      string   `json:"group"`
	Components []string `json:"components"`
	Skipped    []string `json:"skipped,omitempty"`
	Bounds     Bounds   `json:"bounds"`
	Coverage   Coverage `json:"coverage"`
	Palette    []string `json:"palette,omitempty"`
}

type Manifest struct {
	RunID     string    `json:"run_id"`
	Created   time.Time `json:"created"`
	InputDir  string    `json:"input_dir"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Entries   []Entry   `json:"entries"`
}

// Recorder collects entries from concurrent composite workers.
type Recorder struct {
	mu          sync.Mutex
	m           Manifest
	paletteSize int
	method      utils.PaletteMethod
}

func NewRecorder(runID, inputDir string, paletteSize int, method utils.PaletteMethod) *Recorder {
	return &Recorder{
		m: Manifest{
			RunID:    runID,
			Created:  time.Now().UTC(),
			InputDir: inputDir,
		},
		paletteSize: paletteSize,
		method:      method,
	}
}

func (r *Recorder) RunID() string {
	return r.m.RunID
}

// Record measures img and stores an entry. img covers bounds in absolute space.
func (r *Recorder) Record(e Entry, img image.Image, bounds image.Rectangle) {
	e.Bounds = BoundsOf(bounds)
	e.Coverage = MeasureCoverage(img)
	if r.paletteSize > 0 {
		p, _ := utils.ExtractPalette(img, r.paletteSize, r.method)
		e.Palette = utils.Hex(p)
	}
	r.mu.Lock()
	r.m.Entries = append(r.m.Entries, e)
	r.mu.Unlock()
}

// Snapshot returns the manifest with entries in output order.
func (r *Recorder) Snapshot(succeeded, failed int) Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.m
	m.Succeeded, m.Failed = succeeded, failed
	m.Entries = slices.Clone(r.m.Entries)
	slices.SortFunc(m.Entries, func(a, b Entry) int {
		return strings.Compare(a.Output, b.Output)
	})
	return m
}

func (m Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	return errors.Wrap(os.WriteFile(path, append(data, '\n'), 0o644), "write manifest")
}

func ReadFile(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	return m, errors.Wrap(json.Unmarshal(data, &m), "decode manifest")
}

// MeasureCoverage computes alpha statistics over every pixel of img.
func MeasureCoverage(img image.Image) Coverage {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return Coverage{}
	}
	alpha := make([]float64, 0, n)
	visible := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			a := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).A
			if a > 0 {
				visible++
			}
			alpha = append(alpha, float64(a)/255.0)
		}
	}
	mean, std := stat.MeanStdDev(alpha, nil)
	if n == 1 {
		std = 0
	}
	return Coverage{
		Opaque:      float64(visible) / float64(n),
		MeanAlpha:   mean,
		StdDevAlpha: std,
	}
}
