package codegen

import (
	"fmt"
	"strings"

	"github.com/wippyai/brainwasm/errors"
)

// Target selects the host environment a module is generated for.
type Target int

const (
	// TargetWASI imports fd_read and fd_write from wasi_snapshot_preview1.
	TargetWASI Target = iota
	// TargetBrowser has no code path; generating for it fails.
	TargetBrowser
)

// ImportModule is the WASI module name both host functions are imported from.
const ImportModule = "wasi_snapshot_preview1"

func (t Target) String() string {
	switch t {
	case TargetWASI:
		return "wasi"
	case TargetBrowser:
		return "browser"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// ParseTarget maps a target name to a Target.
func ParseTarget(name string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wasi", "":
		return TargetWASI, nil
	case "browser":
		return TargetBrowser, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseGenerate, fmt.Sprintf("unknown target %q (want wasi or browser)", name))
	}
}
