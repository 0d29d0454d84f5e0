package optimize

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"time"

	"github.com/wippyai/brainwasm/config"
	"github.com/wippyai/brainwasm/errors"
)

const toolName = "wasm-opt"

// waitDelay bounds how long a killed tool may hold its stderr pipe open.
const waitDelay = 2 * time.Second

// WasmOpt runs the Binaryen wasm-opt binary as a subprocess.
//
// Input and output go through uniquely named temporary files that are
// removed on every path, so concurrent builds never share a file.
type WasmOpt struct {
	// Path is the executable name or path. Empty means "wasm-opt" on PATH.
	Path string
	// Flags are passed after "<in> -o <out>". Nil means DefaultWasmOptFlags.
	Flags []string
	// TempDir holds the intermediate files. Empty means os.TempDir().
	TempDir string
}

func (w *WasmOpt) Name() string { return toolName }

func (w *WasmOpt) flags() []string {
	if w.Flags == nil {
		return config.DefaultWasmOptFlags
	}
	return w.Flags
}

// Optimize runs the tool on module. Cancelling ctx kills the subprocess.
func (w *WasmOpt) Optimize(ctx context.Context, module []byte) ([]byte, error) {
	path := w.Path
	if path == "" {
		path = toolName
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return nil, errors.ToolMissing(path, err)
	}

	in, err := writeTemp(w.TempDir, "brainwasm-in-*.wasm", module)
	if err != nil {
		return nil, err
	}
	defer os.Remove(in)

	out, err := writeTemp(w.TempDir, "brainwasm-out-*.wasm", nil)
	if err != nil {
		return nil, err
	}
	defer os.Remove(out)

	cmd := exec.CommandContext(ctx, bin, w.Args(in, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = stderrors.Join(ctxErr, err)
		}
		return nil, errors.ToolFailed(toolName, stderr.String(), err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.IO(errors.PhaseOptimize, out, err)
	}
	if len(data) == 0 {
		return nil, errors.ToolFailed(toolName, "produced an empty module", nil)
	}
	return data, nil
}

// writeTemp creates a fresh file in dir and fills it with data.
func writeTemp(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", errors.IO(errors.PhaseOptimize, dir, err)
	}
	name := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := stderrors.Join(werr, cerr); err != nil {
		os.Remove(name)
		return "", errors.IO(errors.PhaseOptimize, name, err)
	}
	return name, nil
}

// Args returns the full argument list the tool would be invoked with.
func (w *WasmOpt) Args(in, out string) []string {
	return append([]string{in, "-o", out}, w.flags()...)
}
