package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/config"
	"github.com/wippyai/brainwasm/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CacheDir is the root of the persistent compilation cache used by
	// StrategyOptimized. Each module gets a subdirectory named by its
	// digest. Empty means a private directory per object, removed on Close.
	CacheDir string
}

// FromConfig converts the file configuration.
func FromConfig(c config.Engine) Config {
	return Config{MemoryLimitPages: c.MemoryLimitPages, CacheDir: c.CacheDir}
}

// Engine lowers modules with wazero. It holds no runtime state itself;
// every compiled Object owns its own wazero runtime.
type Engine struct {
	cfg Config
}

// New creates an engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Compile lowers module with strategy s. A native strategy on a host without
// compiler support is an error; it is never downgraded to the interpreter.
func (e *Engine) Compile(ctx context.Context, module []byte, s Strategy) (*Object, error) {
	if !s.Available() {
		return nil, errors.New(errors.PhaseCompile, errors.KindUnsupported).
			Backend(s.String()).
			Detail("native compiler is not available on %s/%s", runtime.GOOS, runtime.GOARCH).
			Build()
	}

	start := time.Now()
	digest := sha256.Sum256(module)
	obj := &Object{
		strategy: s,
		module:   module,
		digest:   digest,
	}

	if s == StrategyOptimized {
		if err := obj.openCache(ctx, e.cfg.CacheDir, nil); err != nil {
			obj.Close(ctx)
			return nil, err
		}
	}

	if err := obj.compile(ctx, e.cfg.MemoryLimitPages); err != nil {
		obj.Close(ctx)
		return nil, err
	}

	Logger().Debug("module compiled",
		zap.String("strategy", s.String()),
		zap.Int("bytes", len(module)),
		zap.String("digest", hex.EncodeToString(digest[:8])),
		zap.Duration("elapsed", time.Since(start)))
	return obj, nil
}

// Object is a module lowered for one strategy on this host.
//
// Object is safe for concurrent Run calls; each run gets a fresh instance.
type Object struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	cache    wazero.CompilationCache
	cacheDir string
	ownsDir  bool
	module   []byte
	digest   [sha256.Size]byte

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
	closed       atomic.Bool
	strategy     Strategy
}

// Strategy returns the strategy the object was compiled with.
func (o *Object) Strategy() Strategy { return o.strategy }

// Module returns the module bytes the object was compiled from.
func (o *Object) Module() []byte { return o.module }

// openCache prepares the compilation cache directory and seeds it with
// files, keyed by path relative to the directory.
func (o *Object) openCache(ctx context.Context, root string, files map[string][]byte) error {
	var dir string
	if root != "" {
		dir = filepath.Join(root, hex.EncodeToString(o.digest[:]))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.IO(errors.PhaseCompile, dir, err)
		}
	} else {
		d, err := os.MkdirTemp("", "brainwasm-cache-*")
		if err != nil {
			return errors.IO(errors.PhaseCompile, "", err)
		}
		dir, o.ownsDir = d, true
	}
	o.cacheDir = dir

	if err := restoreCacheFiles(dir, files); err != nil {
		return err
	}

	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return errors.IO(errors.PhaseCompile, dir, err)
	}
	o.cache = cache
	return nil
}

func (o *Object) compile(ctx context.Context, memoryLimitPages uint32) (err error) {
	backend := o.strategy.String()
	defer func() {
		// The compiler backend panics on platforms it cannot target.
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseCompile, errors.KindCompile).
				Backend(backend).
				Detail("backend panicked: %v", r).
				Build()
		}
	}()

	o.runtime = wazero.NewRuntimeWithConfig(ctx, o.strategy.runtimeConfig(memoryLimitPages, o.cache))
	compiled, cerr := o.runtime.CompileModule(ctx, o.module)
	if cerr != nil {
		return errors.Compile(backend, cerr)
	}
	o.compiled = compiled
	return nil
}

// initWASI instantiates the WASI host module once per object.
// Safe for concurrent calls.
func (o *Object) initWASI(ctx context.Context) error {
	if o.wasiInitDone.Load() {
		return nil
	}

	o.wasiInitMu.Lock()
	defer o.wasiInitMu.Unlock()

	if o.wasiInitDone.Load() {
		return nil
	}
	if _, err := instantiateWASI(ctx, o.runtime); err != nil {
		return err
	}
	o.wasiInitDone.Store(true)
	return nil
}

// Run instantiates the object with streams bound to b and calls _start.
// Traps, exhausted memory and context cancellation are all reported as an
// execution trap.
func (o *Object) Run(ctx context.Context, b IO) error {
	backend := o.strategy.String()
	if o.closed.Load() {
		return errors.New(errors.PhaseExecute, errors.KindInvalidState).
			Backend(backend).
			Detail("object is closed").
			Build()
	}
	if err := o.initWASI(ctx); err != nil {
		return errors.New(errors.PhaseExecute, errors.KindTrap).
			Backend(backend).
			Detail("instantiate WASI host").
			Cause(err).
			Build()
	}

	start := time.Now()
	mod, err := o.runtime.InstantiateModule(ctx, o.compiled, b.moduleConfig())
	if err != nil {
		return trap(ctx, backend, err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction("_start")
	if fn == nil {
		return errors.InvalidData(errors.PhaseExecute, "module does not export _start")
	}

	if _, err := fn.Call(ctx); err != nil {
		var exit *sys.ExitError
		if !stderrors.As(err, &exit) || exit.ExitCode() != 0 {
			Logger().Debug("run trapped", zap.String("strategy", backend), zap.Error(err))
			return trap(ctx, backend, err)
		}
	}

	if b.AfterRun != nil {
		if mem := mod.Memory(); mem != nil {
			b.AfterRun(Memory{mem: mem})
		}
	}

	Logger().Debug("run finished",
		zap.String("strategy", backend),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func trap(ctx context.Context, backend string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = stderrors.Join(ctxErr, err)
	}
	return errors.Trap(backend, err)
}

// Close releases the runtime, the cache and a private cache directory.
func (o *Object) Close(ctx context.Context) error {
	if o.closed.Swap(true) {
		return nil
	}
	var errs []error
	if o.runtime != nil {
		errs = append(errs, o.runtime.Close(ctx))
	}
	if o.cache != nil {
		errs = append(errs, o.cache.Close(ctx))
	}
	if o.ownsDir && o.cacheDir != "" {
		errs = append(errs, os.RemoveAll(o.cacheDir))
	}
	return stderrors.Join(errs...)
}

// Memory is a read view of guest linear memory.
type Memory struct {
	mem api.Memory
}

func (m Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m Memory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m Memory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

// Size returns the memory size in bytes.
func (m Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}
