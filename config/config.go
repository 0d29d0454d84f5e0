// Package config loads brainwasm settings from an HCL file.
//
//	target   = "wasi"
//
//	optimizer {
//	  kind  = "wasm-opt"
//	  path  = "/usr/local/bin/wasm-opt"
//	  flags = ["--flatten", "--precompute"]
//	}
//
//	engine {
//	  strategy  = "optimized"
//	  cache_dir = "/var/cache/brainwasm"
//	}
//
//	log {
//	  level  = "debug"
//	  format = "json"
//	}
//
// Every attribute and block is optional; missing values keep Default.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/wippyai/brainwasm/errors"
)

// Optimizer kinds.
const (
	OptimizerWasmOpt  = "wasm-opt"
	OptimizerPeephole = "peephole"
	OptimizerNone     = "none"
)

// DefaultWasmOptFlags is the pass list used when none is configured.
var DefaultWasmOptFlags = []string{"--flatten", "--precompute", "--optimize-instructions", "--local-cse"}

// Config is the full set of settings.
type Config struct {
	Target    string
	Optimizer Optimizer
	Engine    Engine
	Log       Log
}

// Optimizer selects and parameterises the module rewriting stage.
type Optimizer struct {
	Kind    string   `hcl:"kind,optional"`
	Path    string   `hcl:"path,optional"`
	Flags   []string `hcl:"flags,optional"`
	TempDir string   `hcl:"temp_dir,optional"`
}

// Engine configures backend lowering and the sandbox.
type Engine struct {
	Strategy         string `hcl:"strategy,optional"`
	CacheDir         string `hcl:"cache_dir,optional"`
	MemoryLimitPages uint32 `hcl:"memory_limit_pages,optional"`
}

// Log configures the process logger.
type Log struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
}

// file mirrors the HCL layout. Blocks are pointers so absent ones decode to nil.
type file struct {
	Target    string     `hcl:"target,optional"`
	Optimizer *Optimizer `hcl:"optimizer,block"`
	Engine    *Engine    `hcl:"engine,block"`
	Log       *Log       `hcl:"log,block"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Target: "wasi",
		Optimizer: Optimizer{
			Kind:  OptimizerWasmOpt,
			Path:  "wasm-opt",
			Flags: slices.Clone(DefaultWasmOptFlags),
		},
		Engine: Engine{
			Strategy: "balanced",
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and decodes the file at path.
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.IO(errors.PhaseConfig, path, err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source. filename is only used in diagnostics.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, diagError(filename, "parse", diags)
	}

	var raw file
	if diags := gohcl.DecodeBody(f.Body, nil, &raw); diags.HasErrors() {
		return Config{}, diagError(filename, "decode", diags)
	}

	cfg := Default()
	cfg.merge(raw)
	if err := cfg.Validate(); err != nil {
		e := err.(*errors.Error)
		e.File = filename
		return Config{}, e
	}
	return cfg, nil
}

func diagError(filename, stage string, diags hcl.Diagnostics) *errors.Error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		File(filename).
		Detail("failed to %s HCL: %s", stage, diags.Error()).
		Build()
}

func (c *Config) merge(raw file) {
	if raw.Target != "" {
		c.Target = raw.Target
	}
	if o := raw.Optimizer; o != nil {
		setString(&c.Optimizer.Kind, o.Kind)
		setString(&c.Optimizer.Path, o.Path)
		setString(&c.Optimizer.TempDir, o.TempDir)
		if o.Flags != nil {
			c.Optimizer.Flags = o.Flags
		}
	}
	if e := raw.Engine; e != nil {
		setString(&c.Engine.Strategy, e.Strategy)
		setString(&c.Engine.CacheDir, e.CacheDir)
		if e.MemoryLimitPages != 0 {
			c.Engine.MemoryLimitPages = e.MemoryLimitPages
		}
	}
	if l := raw.Log; l != nil {
		setString(&c.Log.Level, l.Level)
		setString(&c.Log.Format, l.Format)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks enumerated values. It returns an *errors.Error.
func (c Config) Validate() error {
	checks := []struct {
		field string
		value string
		allow []string
	}{
		{"target", c.Target, []string{"wasi", "browser"}},
		{"optimizer.kind", c.Optimizer.Kind, []string{OptimizerWasmOpt, OptimizerPeephole, OptimizerNone}},
		{"engine.strategy", c.Engine.Strategy, []string{"fast", "balanced", "optimized"}},
		{"log.level", c.Log.Level, []string{"debug", "info", "warn", "error"}},
		{"log.format", c.Log.Format, []string{"console", "json"}},
	}
	for _, ck := range checks {
		if !slices.Contains(ck.allow, strings.ToLower(ck.value)) {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Value(ck.value).
				Detail("%s: %q is not one of %s", ck.field, ck.value, strings.Join(ck.allow, ", ")).
				Build()
		}
	}
	if c.Optimizer.Kind == OptimizerWasmOpt && c.Optimizer.Path == "" {
		return errors.InvalidInput(errors.PhaseConfig, "optimizer.path must be set for wasm-opt")
	}
	if c.Engine.MemoryLimitPages > 65536 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.memory_limit_pages %d exceeds 65536", c.Engine.MemoryLimitPages))
	}
	return nil
}
