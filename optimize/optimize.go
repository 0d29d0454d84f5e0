// Package optimize rewrites generated modules before backend lowering.
//
// The stage is always run. Which rewriter it runs is a configuration
// choice; there is no fallback from one implementation to another, so a
// missing external tool is an error rather than a silent downgrade.
package optimize

import (
	"context"

	"github.com/wippyai/brainwasm/config"
	"github.com/wippyai/brainwasm/errors"
)

// Optimizer replaces a module with a semantically equivalent one.
type Optimizer interface {
	Optimize(ctx context.Context, module []byte) ([]byte, error)
	Name() string
}

// None returns its input unchanged.
type None struct{}

func (None) Optimize(_ context.Context, module []byte) ([]byte, error) {
	return module, nil
}

func (None) Name() string { return config.OptimizerNone }

// New builds the optimizer selected by cfg.
func New(cfg config.Optimizer) (Optimizer, error) {
	switch cfg.Kind {
	case config.OptimizerWasmOpt, "":
		return &WasmOpt{Path: cfg.Path, Flags: cfg.Flags, TempDir: cfg.TempDir}, nil
	case config.OptimizerPeephole:
		return Peephole{}, nil
	case config.OptimizerNone:
		return None{}, nil
	default:
		return nil, errors.New(errors.PhaseOptimize, errors.KindInvalidInput).
			Value(cfg.Kind).
			Detail("unknown optimizer %q", cfg.Kind).
			Build()
	}
}
