package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which pipeline stage produced the error
type Phase string

const (
	PhaseRead       Phase = "read"       // source file access
	PhaseParse      Phase = "parse"      // symbol filtering and bracket matching
	PhaseGenerate   Phase = "generate"   // symbols to module bytes
	PhaseValidate   Phase = "validate"   // structural module checks
	PhaseOptimize   Phase = "optimize"   // module rewriting
	PhaseCompile    Phase = "compile"    // backend lowering
	PhaseExecute    Phase = "execute"    // running the compiled object
	PhaseSerialize  Phase = "serialize"  // persisting a compiled object
	PhaseLoad       Phase = "load"       // reloading a serialized object
	PhaseWrite      Phase = "write"      // writing artifacts
	PhaseStandalone Phase = "standalone" // native binary packaging
	PhasePipeline   Phase = "pipeline"   // orchestration itself
	PhaseConfig     Phase = "config"     // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindIO                Kind = "io"
	KindUnsupportedTarget Kind = "unsupported_target"
	KindMalformedProgram  Kind = "malformed_program"
	KindValidation        Kind = "validation"
	KindToolMissing       Kind = "tool_missing"
	KindToolFailed        Kind = "tool_failed"
	KindCompile           Kind = "compile"
	KindTrap              Kind = "trap"
	KindBackendMismatch   Kind = "backend_mismatch"
	KindUnsupported       Kind = "unsupported"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidState      Kind = "invalid_state"
)

// Position is a location in program source text.
type Position struct {
	Offset int
	Line   int
	Col    int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Error is the structured error type returned by every stage
type Error struct {
	Value   any
	Cause   error
	Pos     *Position
	Phase   Phase
	Kind    Kind
	File    string
	Backend string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.File != "" || e.Pos != nil {
		b.WriteString(" at ")
		if e.File != "" {
			b.WriteString(e.File)
			if e.Pos != nil {
				b.WriteByte(':')
			}
		}
		if e.Pos != nil {
			b.WriteString(e.Pos.String())
		}
	}

	if e.Backend != "" {
		b.WriteString(" (backend ")
		b.WriteString(e.Backend)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Kind matches any error of the same Phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return e.Phase == t.Phase
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// File sets the file the error refers to
func (b *Builder) File(name string) *Builder {
	b.err.File = name
	return b
}

// At sets the source position
func (b *Builder) At(pos Position) *Builder {
	b.err.Pos = &pos
	return b
}

// Backend sets the backend strategy name
func (b *Builder) Backend(name string) *Builder {
	b.err.Backend = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the pipeline taxonomy

// IO creates an I/O error for a file read or write
func IO(phase Phase, file string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		File:  file,
		Cause: cause,
	}
}

// UnsupportedTarget creates the error raised for targets without a code path
func UnsupportedTarget(target string) *Error {
	return &Error{
		Phase:  PhaseGenerate,
		Kind:   KindUnsupportedTarget,
		Detail: fmt.Sprintf("target %q is not implemented", target),
		Value:  target,
	}
}

// MalformedProgram creates a bracket mismatch error at pos
func MalformedProgram(pos Position, detail string) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindMalformedProgram,
		Pos:    &pos,
		Detail: detail,
	}
}

// Validation wraps a structural check failure of a generated module
func Validation(cause error) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindValidation,
		Detail: "generated module is malformed",
		Cause:  cause,
	}
}

// ToolMissing creates an error for an unavailable external tool
func ToolMissing(tool string, cause error) *Error {
	return &Error{
		Phase:  PhaseOptimize,
		Kind:   KindToolMissing,
		Detail: fmt.Sprintf("%s not found", tool),
		Cause:  cause,
	}
}

// ToolFailed creates an error for an external tool that exited abnormally
func ToolFailed(tool, stderr string, cause error) *Error {
	detail := tool + " failed"
	if s := strings.TrimSpace(stderr); s != "" {
		detail += ": " + s
	}
	return &Error{
		Phase:  PhaseOptimize,
		Kind:   KindToolFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// Compile creates a backend lowering error
func Compile(backend string, cause error) *Error {
	return &Error{
		Phase:   PhaseCompile,
		Kind:    KindCompile,
		Backend: backend,
		Detail:  "backend rejected module",
		Cause:   cause,
	}
}

// Trap creates an execution fault error
func Trap(backend string, cause error) *Error {
	return &Error{
		Phase:   PhaseExecute,
		Kind:    KindTrap,
		Backend: backend,
		Detail:  "program trapped",
		Cause:   cause,
	}
}

// BackendMismatch creates the error returned when a serialized object
// is loaded by a loader it was not produced for
func BackendMismatch(want, got string) *Error {
	return &Error{
		Phase:   PhaseLoad,
		Kind:    KindBackendMismatch,
		Backend: want,
		Detail:  fmt.Sprintf("object was compiled for %s", got),
		Value:   got,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidState creates an orchestration ordering error
func InvalidState(from, to string) *Error {
	return &Error{
		Phase:  PhasePipeline,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// Wrap wraps an existing error with additional context.
// If cause already holds an *Error anywhere in its chain, that error is
// returned unchanged.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	var e *Error
	if stderrors.As(cause, &e) {
		return e
	}
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// PhaseOf returns the phase of the first *Error in err's chain, or "" if there is none.
func PhaseOf(err error) Phase {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Phase
	}
	return ""
}
