package engine

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/brainwasm/errors"
)

// Strategy selects how a module is lowered to executable form. It never
// changes the module bytes, only how wazero runs them.
type Strategy uint8

const (
	// StrategyFast skips native code generation and interprets the module.
	StrategyFast Strategy = iota
	// StrategyBalanced lowers the module to native code ahead of the run.
	StrategyBalanced
	// StrategyOptimized is StrategyBalanced plus a persistent compilation
	// cache, so repeated builds and reloaded objects reuse native code.
	StrategyOptimized
)

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{StrategyFast, StrategyBalanced, StrategyOptimized}
}

func (s Strategy) String() string {
	switch s {
	case StrategyFast:
		return "fast"
	case StrategyBalanced:
		return "balanced"
	case StrategyOptimized:
		return "optimized"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// ParseStrategy maps a strategy name to a Strategy. There is no implicit
// default: an empty name is rejected, and callers take their default from
// config.Default.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast":
		return StrategyFast, nil
	case "balanced":
		return StrategyBalanced, nil
	case "optimized":
		return StrategyOptimized, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseCompile, fmt.Sprintf("unknown strategy %q (want fast, balanced or optimized)", name))
	}
}

// Native reports whether the strategy generates machine code.
func (s Strategy) Native() bool {
	return s == StrategyBalanced || s == StrategyOptimized
}

// Available reports whether s can run on this host.
func (s Strategy) Available() bool {
	return !s.Native() || compilerSupported()
}

// compilerSupported mirrors the platforms wazero's optimizing compiler
// targets.
func compilerSupported() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return false
	}
	switch runtime.GOOS {
	case "linux", "darwin", "windows", "freebsd", "netbsd", "dragonfly", "solaris", "illumos":
		return true
	}
	return false
}

// runtimeConfig returns the wazero configuration for s. The cache is only
// attached for StrategyOptimized.
func (s Strategy) runtimeConfig(memoryLimitPages uint32, cache wazero.CompilationCache) wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	if s == StrategyFast {
		rc = wazero.NewRuntimeConfigInterpreter()
	} else {
		rc = wazero.NewRuntimeConfigCompiler()
	}
	rc = rc.WithCloseOnContextDone(true)
	if memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(memoryLimitPages)
	}
	if cache != nil && s == StrategyOptimized {
		rc = rc.WithCompilationCache(cache)
	}
	return rc
}
