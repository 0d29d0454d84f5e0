package pipeline

import (
	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/codegen"
	"github.com/wippyai/brainwasm/config"
	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/optimize"
)

// FromConfig builds a pipeline wired as cfg describes.
func FromConfig(cfg config.Config, logger *zap.Logger) (*Pipeline, error) {
	target, err := codegen.ParseTarget(cfg.Target)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "target")
	}
	opt, err := optimize.New(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	return New(
		WithGenerator(codegen.Generator{Target: target}),
		WithOptimizer(opt),
		WithCompiler(EngineCompiler{Engine: engine.New(engine.FromConfig(cfg.Engine))}),
		WithLogger(logger),
	), nil
}
