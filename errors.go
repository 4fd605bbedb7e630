package spritecomposer

import "github.com/pkg/errors"

var (
	// Layer errors
	ErrInvalidLayer = errors.New("invalid layer")
	ErrChannelCount = errors.New("blend requires 4-channel layers")

	// Configuration errors
	ErrNoRules      = errors.New("no role rules configured")
	ErrGroupPattern = errors.New("group pattern must contain exactly one capture group")
	ErrInputDir     = errors.New("input directory does not exist")
	ErrNoOutputDir  = errors.New("output directory not set")

	// Composite errors
	ErrMissingBase = errors.New("base layer not found")
)
