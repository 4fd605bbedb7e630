package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	sc "github.com/setanarut/spritecomposer"
	"github.com/setanarut/spritecomposer/logging"
	"github.com/setanarut/spritecomposer/positions"
	"github.com/setanarut/spritecomposer/utils"
)

const version = "0.1.0"

var errRunFailed = errors.New("run finished with failures")

var (
	outputDir      string
	positionsPath  string
	positionsRoot  string
	positionsField string
	rulesPath      string
	embedAnchor    bool
	workers        int
	dryRun         bool
	writeManifest  bool
	paletteSize    int
	paletteMethod  string
	contactSheet   bool
	thumbSize      int
	logLevel       string
	verbose        bool

	tableFormat string

	rootCmd      *cobra.Command
	positionsCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "spritecomposer [flags] <input-dir>",
		Short: "Compose every base x variant combination of a sprite layer directory",
		Long: `Scans a flat directory of PNG layers, groups them by character, classifies
each file into a role and writes one flattened PNG per combination of a base
layer with one file from every other role.`,
		Example: `  spritecomposer ./input
  spritecomposer -v -w -l ./list_windows.tbl ./input
  spritecomposer --output ./output --workers 4 --manifest ./input`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          compose,
	}

	f := rootCmd.Flags()
	f.StringVarP(&outputDir, "output", "o", "", "Output directory (default <input-dir>_output)")
	f.StringVarP(&positionsPath, "lua-path", "l", "", "Positions table (.lua/.tbl, .yaml, .json) overriding embedded anchors")
	f.StringVar(&positionsRoot, "table-root", "fgpos", "Global variable holding a Lua positions table")
	f.StringVar(&positionsField, "field", "", "Merge every positions group containing this key (default <parent>_<input-dir>)")
	f.StringVar(&rulesPath, "rules", "", "YAML file with the group pattern and ordered role rules")
	f.BoolVarP(&embedAnchor, "write-pos-back", "w", false, "Embed the composed anchor and bounds so outputs can be composed again")
	f.IntVarP(&workers, "workers", "j", 1, "Parallel composite workers")
	f.BoolVar(&dryRun, "dry-run", false, "Only scan and generate; list combinations without writing")
	f.BoolVar(&writeManifest, "manifest", false, "Write manifest.json into the output directory")
	f.IntVar(&paletteSize, "palette-size", 5, "Colors per manifest entry (0 disables)")
	f.StringVar(&paletteMethod, "palette-method", "dominantcolor", "Manifest palette method (dominantcolor, kmeans)")
	f.BoolVar(&contactSheet, "contact-sheet", false, "Write one thumbnail sheet per group")
	f.IntVar(&thumbSize, "thumb-size", 128, "Contact sheet thumbnail size")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	positionsCmd = &cobra.Command{
		Use:   "positions <table>",
		Short: "Print a positions table, optionally converted to another format",
		Args:  cobra.ExactArgs(1),
		RunE:  printPositions,
	}
	positionsCmd.Flags().StringVar(&tableFormat, "format", "yaml", "Output format (lua, yaml, json)")
	positionsCmd.Flags().StringVar(&positionsRoot, "table-root", "fgpos", "Global variable holding a Lua positions table")
	positionsCmd.Flags().StringVar(&positionsField, "field", "", "Only print the merge of groups containing this key")
	rootCmd.AddCommand(positionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func compose(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("spritecomposer", logging.Level(logLevel, verbose), nil)

	opt := sc.OptionsFromInput(args[0])
	if outputDir != "" {
		opt.OutputDir = outputDir
	}
	if positionsField != "" {
		opt.PositionsField = positionsField
	}
	if rulesPath != "" {
		rules, err := sc.LoadRules(rulesPath)
		if err != nil {
			return err
		}
		opt.Rules = rules
	}
	method, err := utils.ParsePaletteMethod(paletteMethod)
	if err != nil {
		return err
	}
	opt.PositionsPath = positionsPath
	opt.PositionsRoot = positionsRoot
	opt.EmbedAnchor = embedAnchor
	opt.Workers = workers
	opt.DryRun = dryRun
	opt.Manifest = writeManifest
	opt.PaletteSize = paletteSize
	opt.PaletteMethod = method
	opt.ContactSheet = contactSheet
	opt.ThumbSize = thumbSize
	opt.Logger = logger

	p, err := sc.New(opt)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep := p.Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(),
		"loaded %d, skipped %d, unclassified %d, combinations %d, succeeded %d, failed %d\n",
		rep.Loaded, rep.Skipped, rep.Unclassified, rep.Combinations, rep.Succeeded, rep.Failed)
	if rep.Err != nil {
		return rep.Err
	}
	if !rep.OK() {
		return errRunFailed
	}
	return nil
}

func printPositions(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("positions", logging.Level(logLevel, verbose), nil)
	t, err := positions.NewLoader(positionsRoot, logger).Load(args[0])
	if err != nil {
		return err
	}
	if positionsField != "" {
		if t.Collect(positionsField) == 0 {
			return errors.Wrapf(positions.ErrGroupNotFound, "no group contains %q", positionsField)
		}
		merged := positions.New()
		for _, f := range t.FileNames(positionsField) {
			pos, _ := t.Lookup(positionsField, f)
			merged.Set(positionsField, f, pos)
		}
		t = merged
	}

	out := cmd.OutOrStdout()
	switch tableFormat {
	case "lua":
		return t.WriteLua(out, positionsRoot)
	case "json":
		return t.WriteJSON(out)
	case "yaml":
		return t.WriteYAML(out)
	}
	return errors.Errorf("unknown format %q", tableFormat)
}
