package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseParse,
				Kind:    KindMalformedProgram,
				File:    "loop.bf",
				Pos:     &Position{Offset: 10, Line: 2, Col: 4},
				Backend: "fast",
				Detail:  "unmatched ']'",
			},
			contains: []string{"[parse]", "malformed_program", "loop.bf:2:4", "backend fast", "unmatched ']'"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseValidate,
				Kind:  KindValidation,
			},
			contains: []string{"[validate]", "validation"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseExecute,
				Kind:   KindTrap,
				Detail: "program trapped",
				Cause:  errors.New("out of bounds memory access"),
			},
			contains: []string{"[execute]", "trap", "program trapped", "caused by", "out of bounds"},
		},
		{
			name: "position without file",
			err: &Error{
				Phase: PhaseParse,
				Kind:  KindMalformedProgram,
				Pos:   &Position{Line: 1, Col: 7},
			},
			contains: []string{" at 1:7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseOptimize,
		Kind:  KindToolFailed,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompile,
		Detail: "boom",
	}

	if !err.Is(&Error{Phase: PhaseCompile, Kind: KindCompile}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseExecute, Kind: KindCompile}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseCompile, Kind: KindUnsupported}) {
		t.Error("Is should not match different kind")
	}
	if !err.Is(&Error{Phase: PhaseCompile}) {
		t.Error("Is with empty kind should match any kind of the phase")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseCompile, Kind: KindCompile}) {
		t.Error("errors.Is should match through wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseParse, KindMalformedProgram).
		File("prog.bf").
		At(Position{Offset: 3, Line: 1, Col: 4}).
		Backend("balanced").
		Value(']').
		Cause(cause).
		Detail("unmatched %q", "]").
		Build()

	if err.Phase != PhaseParse {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseParse)
	}
	if err.Kind != KindMalformedProgram {
		t.Errorf("Kind = %v, want %v", err.Kind, KindMalformedProgram)
	}
	if err.File != "prog.bf" {
		t.Errorf("File = %q, want prog.bf", err.File)
	}
	if err.Pos == nil || err.Pos.Line != 1 || err.Pos.Col != 4 {
		t.Errorf("Pos = %v, want 1:4", err.Pos)
	}
	if err.Backend != "balanced" {
		t.Errorf("Backend = %q", err.Backend)
	}
	if err.Value != ']' {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != `unmatched "]"` {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestBuilder_DetailWithoutArgs(t *testing.T) {
	err := New(PhaseWrite, KindIO).Detail("disk full").Build()
	if err.Detail != "disk full" {
		t.Errorf("Detail = %q, want literal text", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"IO", IO(PhaseRead, "x.bf", cause), PhaseRead, KindIO},
		{"UnsupportedTarget", UnsupportedTarget("browser"), PhaseGenerate, KindUnsupportedTarget},
		{"MalformedProgram", MalformedProgram(Position{Line: 1, Col: 1}, "unclosed '['"), PhaseParse, KindMalformedProgram},
		{"Validation", Validation(cause), PhaseValidate, KindValidation},
		{"ToolMissing", ToolMissing("wasm-opt", cause), PhaseOptimize, KindToolMissing},
		{"ToolFailed", ToolFailed("wasm-opt", "bad input\n", cause), PhaseOptimize, KindToolFailed},
		{"Compile", Compile("balanced", cause), PhaseCompile, KindCompile},
		{"Trap", Trap("fast", cause), PhaseExecute, KindTrap},
		{"BackendMismatch", BackendMismatch("fast", "balanced"), PhaseLoad, KindBackendMismatch},
		{"Unsupported", Unsupported(PhaseStandalone, "native binaries"), PhaseStandalone, KindUnsupported},
		{"InvalidData", InvalidData(PhaseLoad, "bad magic"), PhaseLoad, KindInvalidData},
		{"InvalidInput", InvalidInput(PhaseConfig, "bad flag"), PhaseConfig, KindInvalidInput},
		{"InvalidState", InvalidState("parsed", "compiled"), PhasePipeline, KindInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestToolFailed_TrimsStderr(t *testing.T) {
	err := ToolFailed("wasm-opt", "  parse error\n\n", nil)
	if err.Detail != "wasm-opt failed: parse error" {
		t.Errorf("Detail = %q", err.Detail)
	}

	err = ToolFailed("wasm-opt", "", nil)
	if err.Detail != "wasm-opt failed" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("plain")
	err := Wrap(PhaseWrite, KindIO, cause, "write module")
	if err.Phase != PhaseWrite || err.Kind != KindIO {
		t.Errorf("got %v/%v", err.Phase, err.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap should keep cause")
	}

	typed := Trap("fast", cause)
	if got := Wrap(PhaseWrite, KindIO, typed, "ignored"); got != typed {
		t.Error("Wrap should return typed errors unchanged")
	}

	wrapped := fmt.Errorf("optimizer plugin: %w", typed)
	if got := Wrap(PhaseOptimize, KindToolFailed, wrapped, "ignored"); got != typed {
		t.Errorf("Wrap should find the typed error through %%w, got %v", got)
	}
}

func TestPhaseOf(t *testing.T) {
	if got := PhaseOf(errors.New("x")); got != "" {
		t.Errorf("PhaseOf(plain) = %q", got)
	}
	if got := PhaseOf(nil); got != "" {
		t.Errorf("PhaseOf(nil) = %q", got)
	}
	wrapped := fmt.Errorf("ctx: %w", Compile("fast", nil))
	if got := PhaseOf(wrapped); got != PhaseCompile {
		t.Errorf("PhaseOf(wrapped) = %q, want compile", got)
	}
}
