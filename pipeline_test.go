package spritecomposer

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/spritecomposer/codec"
	"github.com/setanarut/spritecomposer/manifest"
	"github.com/setanarut/spritecomposer/sheet"
)

var (
	gray        = color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	red         = color.NRGBA{R: 255, A: 255}
	blue        = color.NRGBA{B: 255, A: 255}
	transparent = color.NRGBA{}
)

// inputDir creates <tmp>/tak/bca so the derived positions field is "tak_bca".
func inputDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tak", "bca")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

// writeLayer stores a solid layer covering r, with r embedded as its position.
func writeLayer(t *testing.T, dir, stem string, r image.Rectangle, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	require.NoError(t, codec.EncodeFile(filepath.Join(dir, stem+".png"), img, &r))
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
}

func writeDefaultSet(t *testing.T, dir string) {
	t.Helper()
	writeLayer(t, dir, "tak_bca0001", image.Rect(0, 0, 4, 4), gray)
	writeLayer(t, dir, "a0001", image.Rect(1, 1, 3, 3), red)
	writeLayer(t, dir, "a0099", image.Rect(-1, -1, 0, 0), blue)
}

func newPipeline(t *testing.T, opt Options) *Pipeline {
	t.Helper()
	p, err := New(opt)
	require.NoError(t, err)
	return p
}

func TestPipeline_Run(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	opt := OptionsFromInput(dir)
	opt.EmbedAnchor = true
	rep := newPipeline(t, opt).Run(context.Background())

	require.NoError(t, rep.Err)
	assert.True(t, rep.OK())
	assert.Equal(t, PhaseDone, rep.Phase)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, Stats{Loaded: 3, Groups: 1, Combinations: 1, Succeeded: 1}, rep.Stats)

	out := filepath.Join(dir+"_output", "tak_bca0001_a0001_a0099.png")
	assert.Equal(t, []string{out}, rep.Outputs)

	img, meta, err := codec.DecodeFile(out)
	require.NoError(t, err)
	require.True(t, meta.HasPos)
	assert.Equal(t, image.Pt(-1, -1), meta.Pos)
	assert.Equal(t, image.Rect(-1, -1, 4, 4), meta.Bounds)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())

	assert.Equal(t, blue, nrgbaAt(img, 0, 0))
	assert.Equal(t, transparent, nrgbaAt(img, 4, 0))
	assert.Equal(t, transparent, nrgbaAt(img, 0, 4))
	assert.Equal(t, gray, nrgbaAt(img, 1, 1))
	assert.Equal(t, red, nrgbaAt(img, 2, 2))
	assert.Equal(t, red, nrgbaAt(img, 3, 3))
	assert.Equal(t, gray, nrgbaAt(img, 4, 4))
}

func TestPipeline_RunWithoutAnchor(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	rep := newPipeline(t, OptionsFromInput(dir)).Run(context.Background())
	require.True(t, rep.OK())
	require.Len(t, rep.Outputs, 1)

	_, meta, err := codec.DecodeFile(rep.Outputs[0])
	require.NoError(t, err)
	assert.False(t, meta.HasPos)
}

func TestPipeline_ScanStats(t *testing.T) {
	dir := inputDir(t)
	writeLayer(t, dir, "tak_bca0001", image.Rect(0, 0, 2, 2), gray)
	writeLayer(t, dir, "readme", image.Rect(0, 0, 1, 1), red)
	writeLayer(t, dir, "b0001", image.Rect(0, 0, 1, 1), red)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z0001.png"), []byte("not a png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	p := newPipeline(t, OptionsFromInput(dir))
	require.NoError(t, p.Scan())
	assert.Equal(t, PhaseScan, p.Phase())

	st := p.Stats()
	assert.Equal(t, 3, st.Loaded)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 1, st.Unclassified)
	assert.Equal(t, 2, st.Groups)
	assert.Equal(t, []string{"a", "b"}, p.GroupKeys())
	assert.Equal(t, []string{"tak_bca0001"}, p.Files("a", BaseRole))
	assert.Equal(t, []string{"b0001"}, p.Files("b", "face"))

	_, ok := p.Image("readme")
	assert.True(t, ok, "unclassified files stay cached")
	_, ok = p.Image("z0001")
	assert.False(t, ok)

	// group b has no base and is dropped
	require.NoError(t, p.Generate())
	require.Len(t, p.Combinations(), 1)
	assert.Equal(t, "tak_bca0001.png", p.Combinations()[0].Output)
}

func TestPipeline_DuplicateStem(t *testing.T) {
	dir := inputDir(t)
	writeLayer(t, dir, "tak_bca0001", image.Rect(0, 0, 1, 1), gray)
	r := image.Rect(0, 0, 1, 1)
	img := image.NewNRGBA(r)
	require.NoError(t, codec.EncodeFile(filepath.Join(dir, "tak_bca0001.PNG"), img, &r))

	p := newPipeline(t, OptionsFromInput(dir))
	require.NoError(t, p.Scan())
	assert.Equal(t, 1, p.Stats().Loaded)
	assert.Equal(t, 1, p.Stats().Skipped)
	assert.Len(t, p.Files("a", BaseRole), 1)
}

func TestPipeline_GenerateOrder(t *testing.T) {
	dir := inputDir(t)
	for _, stem := range []string{"tak_bca0001", "tak_bca0002"} {
		writeLayer(t, dir, stem, image.Rect(0, 0, 2, 2), gray)
	}
	for _, stem := range []string{"a0001", "a0002", "a0090", "a0091"} {
		writeLayer(t, dir, stem, image.Rect(0, 0, 1, 1), red)
	}

	p := newPipeline(t, OptionsFromInput(dir))
	require.NoError(t, p.Scan())
	require.NoError(t, p.Generate())

	var outputs []string
	for _, c := range p.Combinations() {
		require.Len(t, c.Components, 3)
		assert.Equal(t, "a", c.Group)
		outputs = append(outputs, c.Output)
	}
	assert.Equal(t, []string{
		"tak_bca0001_a0001_a0090.png",
		"tak_bca0001_a0001_a0091.png",
		"tak_bca0001_a0002_a0090.png",
		"tak_bca0001_a0002_a0091.png",
		"tak_bca0002_a0001_a0090.png",
		"tak_bca0002_a0001_a0091.png",
		"tak_bca0002_a0002_a0090.png",
		"tak_bca0002_a0002_a0091.png",
	}, outputs)
	assert.Equal(t, 8, p.Stats().Combinations)
}

func TestPipeline_RenderSkipsMissingComponent(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	p := newPipeline(t, OptionsFromInput(dir))
	require.NoError(t, p.Scan())
	require.NoError(t, p.Generate())
	require.Len(t, p.Combinations(), 1)

	delete(p.images, "a0001")
	out, skipped, err := p.Render(p.Combinations()[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"a0001"}, skipped)
	assert.Equal(t, image.Rect(-1, -1, 4, 4), out.Bounds())
	assert.Equal(t, [4]uint8{10, 20, 30, 255}, pixel(t, out, 2, 2))
}

func TestPipeline_MissingBaseFailsOnlyThatCombination(t *testing.T) {
	dir := inputDir(t)
	writeLayer(t, dir, "tak_bca0001", image.Rect(0, 0, 2, 2), gray)
	writeLayer(t, dir, "tak_bca0002", image.Rect(0, 0, 2, 2), gray)
	writeLayer(t, dir, "a0001", image.Rect(0, 0, 1, 1), red)

	opt := OptionsFromInput(dir)
	p := newPipeline(t, opt)
	require.NoError(t, p.Scan())
	require.NoError(t, p.Generate())
	require.Len(t, p.Combinations(), 2)

	delete(p.images, "tak_bca0002")
	_, _, err := p.Render(p.Combinations()[1])
	assert.ErrorIs(t, err, ErrMissingBase)

	require.NoError(t, p.Composite(context.Background()))
	assert.Equal(t, 1, p.Stats().Succeeded)
	assert.Equal(t, 1, p.Stats().Failed)
	assert.FileExists(t, filepath.Join(opt.OutputDir, "tak_bca0001_a0001.png"))
	assert.NoFileExists(t, filepath.Join(opt.OutputDir, "tak_bca0002_a0001.png"))
}

func TestPipeline_LuaPositions(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	table := filepath.Join(t.TempDir(), "positions.lua")
	require.NoError(t, os.WriteFile(table, []byte(`
fgpos = {
	tak_bca_front = { tak_bca0001 = {x = 10, y = 20} },
	tak_bca_back = { a0001 = {x = 12, y = 21} },
	other_dir = { a0099 = {x = 99, y = 99} },
}
`), 0o644))

	opt := OptionsFromInput(dir)
	opt.PositionsPath = table
	assert.Equal(t, "tak_bca", opt.PositionsField)

	p := newPipeline(t, opt)
	require.NoError(t, p.Scan())

	base, ok := p.Image("tak_bca0001")
	require.True(t, ok)
	assert.Equal(t, image.Pt(10, 20), image.Pt(base.X, base.Y))

	face, ok := p.Image("a0001")
	require.True(t, ok)
	assert.Equal(t, image.Pt(12, 21), image.Pt(face.X, face.Y))

	// absent from every merged group: the embedded (-1,-1) is ignored
	other, ok := p.Image("a0099")
	require.True(t, ok)
	assert.Equal(t, image.Pt(0, 0), image.Pt(other.X, other.Y))
}

func TestPipeline_UnreadablePositionsFallBackToEmbedded(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	table := filepath.Join(t.TempDir(), "positions.lua")
	require.NoError(t, os.WriteFile(table, []byte(`fgpos = 3`), 0o644))

	opt := OptionsFromInput(dir)
	opt.PositionsPath = table
	p := newPipeline(t, opt)
	require.NoError(t, p.Scan())

	other, ok := p.Image("a0099")
	require.True(t, ok)
	assert.Equal(t, image.Pt(-1, -1), image.Pt(other.X, other.Y))
}

func TestPipeline_DryRun(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	opt := OptionsFromInput(dir)
	opt.DryRun = true
	rep := newPipeline(t, opt).Run(context.Background())

	require.True(t, rep.OK())
	assert.Equal(t, PhaseDone, rep.Phase)
	assert.Equal(t, 1, rep.Combinations)
	assert.Zero(t, rep.Succeeded)
	assert.Empty(t, rep.Outputs)
	assert.NoDirExists(t, opt.OutputDir)
}

func TestPipeline_ParallelWithManifestAndSheets(t *testing.T) {
	dir := inputDir(t)
	for _, stem := range []string{"tak_bca0001", "tak_bca0002"} {
		writeLayer(t, dir, stem, image.Rect(0, 0, 4, 4), gray)
	}
	for _, stem := range []string{"a0001", "a0002", "a0003"} {
		writeLayer(t, dir, stem, image.Rect(1, 1, 3, 3), red)
	}
	for _, stem := range []string{"a0090", "a0091", "a0092"} {
		writeLayer(t, dir, stem, image.Rect(-1, -1, 1, 1), blue)
	}

	opt := OptionsFromInput(dir)
	opt.OutputDir = filepath.Join(t.TempDir(), "nested", "out")
	opt.Workers = 4
	opt.Manifest = true
	opt.PaletteSize = 0
	opt.ContactSheet = true
	opt.ThumbSize = 16

	rep := newPipeline(t, opt).Run(context.Background())
	require.NoError(t, rep.Err)
	require.True(t, rep.OK())
	assert.Equal(t, 18, rep.Combinations)
	assert.Equal(t, 18, rep.Succeeded)
	require.Len(t, rep.Outputs, 18)
	assert.IsNonDecreasing(t, rep.Outputs)

	m, err := manifest.ReadFile(filepath.Join(opt.OutputDir, manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, m.RunID)
	assert.Equal(t, 18, m.Succeeded)
	require.Len(t, m.Entries, 18)
	first := m.Entries[0]
	assert.Equal(t, "tak_bca0001_a0001_a0090.png", first.Output)
	assert.Equal(t, manifest.Bounds{X: -1, Y: -1, W: 5, H: 5}, first.Bounds)
	assert.Empty(t, first.Palette)

	// 18 thumbnails on a 5x4 grid
	sh, _, err := codec.DecodeFile(filepath.Join(opt.OutputDir, "a"+sheet.Suffix))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 80, 64), sh.Bounds())
}

func TestPipeline_CancelledContext(t *testing.T) {
	dir := inputDir(t)
	writeDefaultSet(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := newPipeline(t, OptionsFromInput(dir)).Run(ctx)
	assert.ErrorIs(t, rep.Err, context.Canceled)
	assert.Equal(t, PhaseFailed, rep.Phase)
	assert.False(t, rep.OK())
}

func TestNew_MissingInputDir(t *testing.T) {
	_, err := New(OptionsFromInput(filepath.Join(t.TempDir(), "missing")))
	assert.ErrorIs(t, err, ErrInputDir)
}

func TestNew_InvalidRules(t *testing.T) {
	opt := OptionsFromInput(inputDir(t))
	opt.Rules = Rules{Group: `[a-z]`, Roles: DefaultRules().Roles}
	_, err := New(opt)
	assert.ErrorIs(t, err, ErrGroupPattern)
}

func TestOptionsFromInput(t *testing.T) {
	dir := inputDir(t)
	opt := OptionsFromInput(dir + string(filepath.Separator))
	assert.Equal(t, dir+"_output", opt.OutputDir)
	assert.Equal(t, "tak_bca", opt.PositionsField)
	assert.Equal(t, "fgpos", opt.PositionsRoot)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "init", PhaseInit.String())
	assert.Equal(t, "composite", PhaseComposite.String())
	assert.Equal(t, "failed", PhaseFailed.String())
}

// panicLogger panics when Debug is called with msg.
type panicLogger struct {
	hclog.Logger
	msg string
}

func (l panicLogger) Debug(msg string, args ...interface{}) {
	if msg == l.msg {
		panic("boom in " + msg)
	}
	l.Logger.Debug(msg, args...)
}

func (l panicLogger) With(args ...interface{}) hclog.Logger {
	return panicLogger{Logger: l.Logger.With(args...), msg: l.msg}
}

func (l panicLogger) Named(name string) hclog.Logger {
	return panicLogger{Logger: l.Logger.Named(name), msg: l.msg}
}

func TestPipeline_RunRecoversPanics(t *testing.T) {
	tests := []struct {
		msg    string
		phase  string
		failed int
	}{
		{"classified", "panic during scan", 0},
		{"combination", "panic while compositing tak_bca0001_a0001_a0099.png", 1},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			dir := inputDir(t)
			writeDefaultSet(t, dir)

			opt := OptionsFromInput(dir)
			opt.Logger = panicLogger{Logger: hclog.NewNullLogger(), msg: tt.msg}
			rep := newPipeline(t, opt).Run(context.Background())

			require.Error(t, rep.Err)
			assert.Contains(t, rep.Err.Error(), tt.phase)
			assert.Contains(t, rep.Err.Error(), "boom in "+tt.msg)
			assert.Equal(t, PhaseFailed, rep.Phase)
			assert.Equal(t, tt.failed, rep.Failed)
			assert.False(t, rep.OK())
		})
	}
}
