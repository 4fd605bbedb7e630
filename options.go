package spritecomposer

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/setanarut/spritecomposer/utils"
)

// BaseRole is the role every combination starts from.
const BaseRole = "base"

// Rule assigns Role to every file whose stem matches Pattern.
type Rule struct {
	Role    string `yaml:"role" json:"role"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

// Rules is the full classification configuration.
type Rules struct {
	// Searched in the file stem. Capture group 1 names the group; only its first
	// character is kept, so "a0001" and "a9999" share group "a".
	Group string `yaml:"group" json:"group"`
	// Evaluated in order, first match wins. The order also fixes the order of
	// the non-base components inside every combination.
	Roles []Rule `yaml:"roles" json:"roles"`
}

func DefaultRules() Rules {
	return Rules{
		Group: `([a-z]\d{4})`,
		Roles: []Rule{
			{Role: BaseRole, Pattern: `^[a-z]{3}_[a-z0-9]{2}[a-z]\d{4}`},
			{Role: "face", Pattern: `^[a-z]\d{2}[0-8]\d`},
			{Role: "other", Pattern: `^[a-z]\d{2}9\d`},
		},
	}
}

// LoadRules reads a YAML rule file. Missing keys fall back to DefaultRules.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, errors.Wrap(err, "read rules")
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, errors.Wrapf(err, "parse rules %s", path)
	}
	def := DefaultRules()
	if r.Group == "" {
		r.Group = def.Group
	}
	if len(r.Roles) == 0 {
		r.Roles = def.Roles
	}
	return r, nil
}

type Options struct {
	// Flat directory of PNG layers. Must exist before the run.
	InputDir string
	// Created recursively when missing. Defaults to InputDir + "_output".
	OutputDir string
	Rules     Rules
	// Write "pos,x,y,x2,y2" into every output so it can be composed again.
	EmbedAnchor bool
	// Optional positions table (.lua, .tbl, .yaml, .yml, .json). When set, anchors come
	// from the table instead of the PNG metadata.
	PositionsPath string
	// Root variable of a Lua positions table.
	PositionsRoot string
	// Every table group whose key contains Field is merged into one lookup.
	// Defaults to "<parent dir>_<input dir>".
	PositionsField string
	// Goroutines used by the composite phase. 1 keeps everything sequential.
	Workers int
	// Stop after generation; nothing is written.
	DryRun bool
	// Write manifest.json next to the outputs.
	Manifest bool
	// Colors per manifest entry and the method used to find them.
	PaletteSize   int
	PaletteMethod utils.PaletteMethod
	// Write one "<group>_sheet.png" thumbnail grid per group.
	ContactSheet bool
	// Thumbnail edge length for contact sheets.
	ThumbSize int
	Logger    hclog.Logger
}

func DefaultOptions() Options {
	return Options{
		Rules:         DefaultRules(),
		PositionsRoot: "fgpos",
		Workers:       1,
		PaletteSize:   5,
		PaletteMethod: utils.PaletteMethodDominantColor,
		ThumbSize:     128,
	}
}

// OptionsFromInput fills the directory-derived defaults for inputDir.
func OptionsFromInput(inputDir string) Options {
	opt := DefaultOptions()
	opt.InputDir = inputDir
	opt.applyInputDefaults()
	return opt
}

func (o *Options) applyInputDefaults() {
	if o.InputDir == "" {
		return
	}
	clean := filepath.Clean(o.InputDir)
	if o.OutputDir == "" {
		o.OutputDir = clean + "_output"
	}
	if o.PositionsField == "" {
		abs, err := filepath.Abs(clean)
		if err != nil {
			abs = clean
		}
		o.PositionsField = filepath.Base(filepath.Dir(abs)) + "_" + filepath.Base(abs)
	}
}

// Validate fills defaults and rejects configurations the run cannot start with.
func (o *Options) Validate() error {
	o.applyInputDefaults()
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.PositionsRoot == "" {
		o.PositionsRoot = "fgpos"
	}
	if o.ThumbSize <= 0 {
		o.ThumbSize = 128
	}
	st, err := os.Stat(o.InputDir)
	if err != nil || !st.IsDir() {
		return errors.Wrapf(ErrInputDir, "%q", o.InputDir)
	}
	if o.OutputDir == "" {
		return ErrNoOutputDir
	}
	if o.PositionsPath != "" {
		if _, err := os.Stat(o.PositionsPath); err != nil {
			return errors.Wrap(err, "positions table")
		}
	}
	if _, err := NewClassifier(o.Rules); err != nil {
		return err
	}
	return nil
}
