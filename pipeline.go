package spritecomposer

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/setanarut/spritecomposer/codec"
	"github.com/setanarut/spritecomposer/manifest"
	"github.com/setanarut/spritecomposer/positions"
	"github.com/setanarut/spritecomposer/sheet"
)

type Phase int

const (
	PhaseInit Phase = iota
	PhaseScan
	PhaseGenerate
	PhaseComposite
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseScan:
		return "scan"
	case PhaseGenerate:
		return "generate"
	case PhaseComposite:
		return "composite"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "init"
	}
}

type Stats struct {
	Loaded       int // decoded and cached
	Skipped      int // not decoded: bad PNG, duplicate stem
	Unclassified int // cached but outside every group or role
	Groups       int
	Combinations int
	Succeeded    int
	Failed       int
}

// Report is the outcome of one run.
type Report struct {
	Stats
	Phase   Phase // PhaseDone or PhaseFailed
	Err     error // hard failure, nil when every phase completed
	RunID   string
	Outputs []string
}

// OK is true when no phase hard-failed and no combination failed.
func (r Report) OK() bool {
	return r.Err == nil && r.Failed == 0
}

// Pipeline runs scan -> generate -> composite once. It owns the image cache and
// the group index for the duration of the run.
type Pipeline struct {
	opt        Options
	runID      string
	log        hclog.Logger
	classifier *Classifier
	// merged positions keyed by file stem; nil when no table is configured
	positions map[string]positions.Pos

	images       map[string]*Layer
	groups       map[string]map[string][]string
	combinations []Combination
	stats        Stats
	phase        Phase

	outputs  []string
	outMu    sync.Mutex
	recorder *manifest.Recorder
	sheets   *sheet.Sheets
}

func New(opt Options) (*Pipeline, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	c, err := NewClassifier(opt.Rules)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	p := &Pipeline{
		opt:        opt,
		runID:      runID,
		log:        opt.Logger.With("run", runID),
		classifier: c,
		images:     make(map[string]*Layer),
		groups:     make(map[string]map[string][]string),
	}
	if opt.PositionsPath != "" {
		p.loadPositions()
	} else {
		p.log.Info("no positions table configured, using embedded anchors")
	}
	return p, nil
}

// loadPositions merges every table group matching PositionsField. A table that
// cannot be read leaves the run on embedded anchors.
func (p *Pipeline) loadPositions() {
	t, err := positions.NewLoader(p.opt.PositionsRoot, p.log.Named("positions")).Load(p.opt.PositionsPath)
	if err != nil {
		p.log.Warn("positions table not loaded", "path", p.opt.PositionsPath, "error", err)
		return
	}
	n := t.Collect(p.opt.PositionsField)
	if n == 0 {
		p.log.Warn("no positions group matches field", "field", p.opt.PositionsField)
	} else {
		p.log.Info("positions merged", "field", p.opt.PositionsField, "groups", n,
			"files", len(t.FileNames(p.opt.PositionsField)))
	}
	p.positions = make(map[string]positions.Pos)
	for _, f := range t.FileNames(p.opt.PositionsField) {
		pos, _ := t.Lookup(p.opt.PositionsField, f)
		p.positions[f] = pos
	}
}

func (p *Pipeline) Phase() Phase {
	return p.phase
}

func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Image returns a cached layer by file stem.
func (p *Pipeline) Image(stem string) (*Layer, bool) {
	l, ok := p.images[stem]
	return l, ok
}

// Files returns the stems of group's role, in scan order.
func (p *Pipeline) Files(group, role string) []string {
	return p.groups[group][role]
}

// GroupKeys is sorted.
func (p *Pipeline) GroupKeys() []string {
	keys := make([]string, 0, len(p.groups))
	for k := range p.groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (p *Pipeline) Combinations() []Combination {
	return p.combinations
}

// ============ SCAN ============

// Scan decodes every PNG in the input directory, caches it and indexes it by
// group and role. Only directory-level errors are returned.
func (p *Pipeline) Scan() error {
	p.phase = PhaseScan
	p.log.Info("scanning", "dir", p.opt.InputDir)

	entries, err := os.ReadDir(p.opt.InputDir)
	if err != nil {
		return errors.Wrap(err, "read input directory")
	}
	for _, e := range entries {
		path := filepath.Join(p.opt.InputDir, e.Name())
		ext := filepath.Ext(e.Name())
		if !strings.EqualFold(ext, ".png") {
			p.log.Debug("skipping non-png file", "file", e.Name())
			continue
		}
		st, err := os.Stat(path)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ext)
		if _, dup := p.images[stem]; dup {
			p.log.Warn("duplicate file stem, keeping the first", "file", e.Name())
			p.stats.Skipped++
			continue
		}

		layer, err := p.load(path, stem)
		if err != nil {
			p.log.Warn("decode failed", "file", e.Name(), "error", err)
			p.stats.Skipped++
			continue
		}
		p.images[stem] = layer
		p.stats.Loaded++

		group, ok := p.classifier.Group(stem)
		if !ok {
			p.log.Warn("no group for file", "file", stem)
			p.stats.Unclassified++
			continue
		}
		role, ok := p.classifier.Role(stem)
		if !ok {
			p.log.Warn("no role for file", "file", stem, "group", group)
			p.stats.Unclassified++
			continue
		}
		roles, ok := p.groups[group]
		if !ok {
			roles = make(map[string][]string)
			p.groups[group] = roles
		}
		roles[role] = append(roles[role], stem)
		p.log.Debug("classified", "file", stem, "group", group, "role", role,
			"x", layer.X, "y", layer.Y, "w", layer.W, "h", layer.H)
	}
	p.stats.Groups = len(p.groups)
	p.log.Info("scan complete", "loaded", p.stats.Loaded, "skipped", p.stats.Skipped,
		"unclassified", p.stats.Unclassified, "groups", p.stats.Groups)
	return nil
}

func (p *Pipeline) load(path, stem string) (*Layer, error) {
	img, meta, err := codec.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	var anchor image.Point
	switch {
	case p.positions != nil:
		pos, ok := p.positions[stem]
		if !ok {
			p.log.Error("no position for file, using 0,0", "file", stem, "field", p.opt.PositionsField)
		}
		anchor = image.Pt(pos.X, pos.Y)
	case meta.HasPos:
		anchor = meta.Pos
	}
	return LayerFromImage(img, anchor), nil
}

// ============ GENERATE ============

// Generate expands every group holding a base file into combinations. Roles
// become dimensions in rule order; files keep their scan order.
func (p *Pipeline) Generate() error {
	p.phase = PhaseGenerate
	order := p.classifier.RoleOrder()
	for _, key := range p.GroupKeys() {
		roles := p.groups[key]
		bases := roles[BaseRole]
		if len(bases) == 0 {
			p.log.Warn("group has no base layer, skipping", "group", key)
			continue
		}
		var dims [][]string
		for _, role := range order {
			if role == BaseRole || len(roles[role]) == 0 {
				continue
			}
			dims = append(dims, roles[role])
			p.log.Debug("dimension", "group", key, "role", role, "files", len(roles[role]))
		}
		for _, base := range bases {
			combos := Expand(key, base, dims)
			p.combinations = append(p.combinations, combos...)
			p.log.Info("combinations generated", "group", key, "base", base, "count", len(combos))
		}
	}
	p.stats.Combinations = len(p.combinations)
	p.log.Info("generate complete", "combinations", p.stats.Combinations)
	return nil
}

// ============ COMPOSITE ============

// Render folds one combination. Missing non-base components are skipped and
// returned; a missing base fails the combination.
func (p *Pipeline) Render(c Combination) (*Layer, []string, error) {
	if len(c.Components) == 0 {
		return nil, nil, errors.Wrap(ErrMissingBase, "empty combination")
	}
	base, ok := p.images[c.Components[0]]
	if !ok {
		return nil, nil, errors.Wrapf(ErrMissingBase, "%q", c.Components[0])
	}
	layers := []*Layer{base}
	var skipped []string
	for _, name := range c.Components[1:] {
		l, ok := p.images[name]
		if !ok {
			p.log.Warn("component not found, skipping", "file", name, "group", c.Group, "output", c.Output)
			skipped = append(skipped, name)
			continue
		}
		layers = append(layers, l)
	}
	out, err := Compose(layers...)
	if err != nil {
		return nil, skipped, errors.Wrap(err, c.Output)
	}
	return out, skipped, nil
}

// Composite renders and writes every generated combination. Per-combination
// failures are counted; only an unusable output directory or a cancelled
// context is returned.
func (p *Pipeline) Composite(ctx context.Context) error {
	p.phase = PhaseComposite
	if err := os.MkdirAll(p.opt.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	if p.opt.Manifest {
		p.recorder = manifest.NewRecorder(p.runID, p.opt.InputDir, p.opt.PaletteSize, p.opt.PaletteMethod)
	}
	if p.opt.ContactSheet {
		p.sheets = sheet.New(p.opt.ThumbSize)
	}
	p.log.Info("compositing", "combinations", len(p.combinations), "workers", p.opt.Workers,
		"output", p.opt.OutputDir)

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opt.Workers)
	total := len(p.combinations)
	for i, c := range p.combinations {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			// Run's recover cannot see panics raised on worker goroutines.
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					err = errors.Errorf("panic while compositing %s: %v", c.Output, r)
					p.log.Error("combination aborted", "output", c.Output, "group", c.Group, "error", err)
				}
			}()
			p.log.Debug("combination", "index", i+1, "total", total, "output", c.Output)
			if err := p.compositeOne(i, c); err != nil {
				p.log.Error("combination failed", "output", c.Output, "group", c.Group, "error", err)
				failed.Add(1)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	werr := g.Wait()
	p.stats.Succeeded = int(succeeded.Load())
	p.stats.Failed = int(failed.Load())
	slices.Sort(p.outputs)
	p.log.Info("composite complete", "succeeded", p.stats.Succeeded, "failed", p.stats.Failed)
	if werr != nil {
		return werr
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "composite interrupted")
	}
	return p.writeExtras()
}

func (p *Pipeline) compositeOne(index int, c Combination) error {
	out, skipped, err := p.Render(c)
	if err != nil {
		return err
	}
	var bounds *image.Rectangle
	if p.opt.EmbedAnchor {
		b := out.Bounds()
		bounds = &b
	}
	path := filepath.Join(p.opt.OutputDir, c.Output)
	img := out.Image()
	if err := codec.EncodeFile(path, img, bounds); err != nil {
		return errors.Wrap(err, "save")
	}
	p.outMu.Lock()
	p.outputs = append(p.outputs, path)
	p.outMu.Unlock()

	if p.recorder != nil {
		p.recorder.Record(manifest.Entry{
			Output:     c.Output,
			Group:      c.Group,
			Components: c.Components,
			Skipped:    skipped,
		}, img, out.Bounds())
	}
	if p.sheets != nil {
		p.sheets.Add(c.Group, index, img)
	}
	return nil
}

func (p *Pipeline) writeExtras() error {
	if p.recorder != nil {
		path := filepath.Join(p.opt.OutputDir, manifest.FileName)
		m := p.recorder.Snapshot(p.stats.Succeeded, p.stats.Failed)
		if err := m.WriteFile(path); err != nil {
			return err
		}
		p.log.Info("manifest written", "path", path, "entries", len(m.Entries))
	}
	if p.sheets != nil {
		written, err := p.sheets.WriteAll(p.opt.OutputDir)
		if err != nil {
			return err
		}
		p.log.Info("contact sheets written", "count", len(written))
	}
	return nil
}

// ============ RUN ============

// Run executes every phase in order and never panics; any hard failure or
// recovered panic is reported through Report.Err. The image cache is released
// before returning.
func (p *Pipeline) Run(ctx context.Context) (rep Report) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic during %s: %v", p.phase, r)
			p.log.Error("run aborted", "error", err)
			rep = p.fail(err)
		}
		p.images = nil
	}()

	if err := p.Scan(); err != nil {
		p.log.Error("scan failed", "error", err)
		return p.fail(err)
	}
	if err := p.Generate(); err != nil {
		p.log.Error("generate failed", "error", err)
		return p.fail(err)
	}
	if p.opt.DryRun {
		for _, c := range p.combinations {
			p.log.Info("would write", "output", c.Output, "components", strings.Join(c.Components, ","))
		}
		return p.done()
	}
	if err := p.Composite(ctx); err != nil {
		p.log.Error("composite failed", "error", err)
		return p.fail(err)
	}
	rep = p.done()
	if rep.OK() {
		p.log.Info("run succeeded", "outputs", len(rep.Outputs))
	} else {
		p.log.Error("run finished with failures", "failed", rep.Failed)
	}
	return rep
}

func (p *Pipeline) report() Report {
	return Report{Stats: p.stats, Phase: p.phase, RunID: p.runID, Outputs: p.outputs}
}

func (p *Pipeline) done() Report {
	p.phase = PhaseDone
	return p.report()
}

func (p *Pipeline) fail(err error) Report {
	p.phase = PhaseFailed
	rep := p.report()
	rep.Err = err
	return rep
}
