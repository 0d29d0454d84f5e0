package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/errors"
)

// ObjectMagic starts every serialized object.
var ObjectMagic = [4]byte{'B', 'W', 'C', 'O'}

const envelopeFormat = 1

// maxEnvelopeSize bounds the decompressed envelope of a loaded object.
const maxEnvelopeSize = 256 << 20

// envelope is the msgpack body of a serialized object, stored zstd
// compressed after ObjectMagic.
type envelope struct {
	Format   int               `msgpack:"format"`
	Strategy string            `msgpack:"strategy"`
	Host     string            `msgpack:"host"`
	Digest   []byte            `msgpack:"digest"`
	Module   []byte            `msgpack:"module"`
	Cache    map[string][]byte `msgpack:"cache,omitempty"`
}

var (
	hostTagOnce sync.Once
	hostTagVal  string
)

// HostTag identifies the runtime build and platform a native object is
// bound to.
func HostTag() string {
	hostTagOnce.Do(func() {
		version := "unknown"
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/tetratelabs/wazero" {
					version = dep.Version
					if dep.Replace != nil {
						version = dep.Replace.Version
					}
					break
				}
			}
		}
		hostTagVal = fmt.Sprintf("wazero/%s %s/%s", version, runtime.GOOS, runtime.GOARCH)
	})
	return hostTagVal
}

// Serialize writes the object so Engine.Load can rebuild it. Objects built
// with StrategyOptimized carry their native compilation cache.
func (o *Object) Serialize(w io.Writer) error {
	if o.closed.Load() {
		return errors.New(errors.PhaseSerialize, errors.KindInvalidState).Detail("object is closed").Build()
	}
	env := envelope{
		Format:   envelopeFormat,
		Strategy: o.strategy.String(),
		Host:     HostTag(),
		Digest:   o.digest[:],
		Module:   o.module,
	}
	if o.cacheDir != "" {
		files, err := collectCacheFiles(o.cacheDir)
		if err != nil {
			return err
		}
		env.Cache = files
	}

	if _, err := w.Write(ObjectMagic[:]); err != nil {
		return errors.IO(errors.PhaseSerialize, "", err)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errors.IO(errors.PhaseSerialize, "", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(&env); err != nil {
		zw.Close()
		return errors.IO(errors.PhaseSerialize, "", err)
	}
	if err := zw.Close(); err != nil {
		return errors.IO(errors.PhaseSerialize, "", err)
	}

	Logger().Debug("object serialized",
		zap.String("strategy", env.Strategy),
		zap.Int("module_bytes", len(env.Module)),
		zap.Int("cache_files", len(env.Cache)))
	return nil
}

// Load rebuilds an object written by Serialize. The object must have been
// produced for strategy s on a host with the same HostTag; anything else
// is a backend mismatch.
func (e *Engine) Load(ctx context.Context, r io.Reader, s Strategy) (*Object, error) {
	env, err := readEnvelope(r)
	if err != nil {
		return nil, err
	}
	if env.Strategy != s.String() {
		return nil, errors.BackendMismatch(s.String(), env.Strategy)
	}
	if env.Host != HostTag() {
		return nil, errors.BackendMismatch(HostTag(), env.Host)
	}
	digest := sha256.Sum256(env.Module)
	if !bytes.Equal(digest[:], env.Digest) {
		return nil, errors.InvalidData(errors.PhaseLoad, "module digest does not match")
	}

	if !s.Available() {
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Backend(s.String()).
			Detail("native compiler is not available on %s/%s", runtime.GOOS, runtime.GOARCH).
			Build()
	}

	obj := &Object{strategy: s, module: env.Module, digest: digest}
	if s == StrategyOptimized {
		if err := obj.openCache(ctx, e.cfg.CacheDir, env.Cache); err != nil {
			obj.Close(ctx)
			return nil, err
		}
	}
	if err := obj.compile(ctx, e.cfg.MemoryLimitPages); err != nil {
		obj.Close(ctx)
		return nil, err
	}

	Logger().Debug("object loaded",
		zap.String("strategy", env.Strategy),
		zap.Int("cache_files", len(env.Cache)))
	return obj, nil
}

func readEnvelope(r io.Reader) (*envelope, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Detail("truncated object header").
			Cause(err).
			Build()
	}
	if magic != ObjectMagic {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Value(magic[:]).
			Detail("not a compiled object (magic %q)", magic[:]).
			Build()
	}

	zr, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(maxEnvelopeSize))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "open compressed body")
	}
	defer zr.Close()

	var env envelope
	if err := msgpack.NewDecoder(zr).Decode(&env); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "decode object body")
	}
	if env.Format != envelopeFormat {
		return nil, errors.InvalidData(errors.PhaseLoad, fmt.Sprintf("unsupported object format %d", env.Format))
	}
	return &env, nil
}

// collectCacheFiles reads every regular file under dir.
func collectCacheFiles(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, errors.IO(errors.PhaseSerialize, dir, err)
	}
	return files, nil
}

// restoreCacheFiles writes files below dir, skipping ones already present.
// Names must stay inside dir.
func restoreCacheFiles(dir string, files map[string][]byte) error {
	for name, data := range files {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return errors.InvalidData(errors.PhaseLoad, fmt.Sprintf("cache entry %q escapes the cache directory", name))
		}
		path := filepath.Join(dir, rel)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.IO(errors.PhaseLoad, path, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.IO(errors.PhaseLoad, path, err)
		}
	}
	return nil
}
