package codegen

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/source"
	"github.com/wippyai/brainwasm/wasm"
)

func mustParse(t *testing.T, text string) source.Program {
	t.Helper()
	p, err := source.Parse([]byte(text))
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	return p
}

func TestGenerateValidates(t *testing.T) {
	programs := []string{
		"",
		"+",
		"+++.",
		",.",
		"[-]",
		"++[>+<-]>.",
		"[[[]]]",
		"<>+-.,[]",
		strings.Repeat(".", 2500),
		strings.Repeat("[", 200) + strings.Repeat("]", 200),
	}
	for _, text := range programs {
		name := text
		if len(name) > 20 {
			name = name[:20] + "..."
		}
		t.Run(name, func(t *testing.T) {
			data, err := Generate(mustParse(t, text), TargetWASI)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if err := wasm.ValidateBinary(data); err != nil {
				t.Fatalf("generated module does not validate: %v", err)
			}
		})
	}
}

func TestModuleShape(t *testing.T) {
	data, err := Generate(mustParse(t, "+."), TargetWASI)
	if err != nil {
		t.Fatal(err)
	}
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Types) != 2 {
		t.Fatalf("expected 2 types, got %d", len(m.Types))
	}
	if len(m.Types[0].Params) != 0 || len(m.Types[0].Results) != 0 {
		t.Errorf("type 0 should be () -> (), got %+v", m.Types[0])
	}
	if len(m.Types[1].Params) != 4 || len(m.Types[1].Results) != 1 {
		t.Errorf("type 1 should be (i32 x4) -> i32, got %+v", m.Types[1])
	}

	wantImports := []string{"fd_read", "fd_write"}
	if len(m.Imports) != len(wantImports) {
		t.Fatalf("expected %d imports, got %d", len(wantImports), len(m.Imports))
	}
	for i, name := range wantImports {
		imp := m.Imports[i]
		if imp.Module != ImportModule || imp.Name != name {
			t.Errorf("import %d: got %s.%s, want %s.%s", i, imp.Module, imp.Name, ImportModule, name)
		}
		if imp.Desc.Kind != wasm.KindFunc || imp.Desc.TypeIdx != 1 {
			t.Errorf("import %d: wrong descriptor %+v", i, imp.Desc)
		}
	}

	if len(m.Memories) != 1 || m.Memories[0].Limits.Min != MemoryPages || m.Memories[0].Limits.Max != nil {
		t.Errorf("memory: got %+v", m.Memories)
	}

	start, ok := m.ExportByName("_start")
	if !ok || start.Kind != wasm.KindFunc || start.Idx != startIndex {
		t.Errorf("_start export: %+v (found=%v)", start, ok)
	}
	mem, ok := m.ExportByName("memory")
	if !ok || mem.Kind != wasm.KindMemory || mem.Idx != 0 {
		t.Errorf("memory export: %+v (found=%v)", mem, ok)
	}

	if len(m.Code) != 1 || m.Code[0].NumLocals() != numLocals {
		t.Errorf("expected one body with %d locals", numLocals)
	}
}

func TestEmptyProgramOnlyFlushes(t *testing.T) {
	m, err := Build(source.Program{}, TargetWASI)
	if err != nil {
		t.Fatal(err)
	}
	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	for _, in := range instrs {
		if idx, ok := in.GetCallTarget(); ok {
			if idx != fdWriteIndex {
				t.Errorf("unexpected call to %d", idx)
			}
			calls++
		}
	}
	if calls != 1 {
		t.Errorf("expected exactly one fd_write call, got %d", calls)
	}
	if last := instrs[len(instrs)-1]; last.Opcode != wasm.OpEnd {
		t.Errorf("body must end with end, got %s", last)
	}
}

func TestLoopLowering(t *testing.T) {
	m, err := Build(mustParse(t, "[]"), TargetWASI)
	if err != nil {
		t.Fatal(err)
	}
	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatal(err)
	}

	e := &emitter{}
	e.prologue()
	n := len(e.code)

	want := []byte{
		wasm.OpBlock,
		wasm.OpLocalGet, wasm.OpI32Load, wasm.OpI32Eqz, wasm.OpBrIf,
		wasm.OpLoop,
		wasm.OpLocalGet, wasm.OpI32Load, wasm.OpI32Const, wasm.OpI32Ne, wasm.OpBrIf,
		wasm.OpEnd, wasm.OpEnd,
	}
	got := instrs[n : n+len(want)]
	for i, op := range want {
		if got[i].Opcode != op {
			t.Fatalf("instruction %d: got %s, want opcode 0x%02x", n+i, got[i], op)
		}
	}
}

func TestOutputFlushesAtCapacity(t *testing.T) {
	e := &emitter{}
	e.output()

	var ifs, calls int
	for _, in := range e.code {
		if in.Opcode == wasm.OpIf {
			ifs++
		}
		if idx, ok := in.GetCallTarget(); ok && idx == fdWriteIndex {
			calls++
		}
	}
	if ifs != 1 || calls != 1 {
		t.Errorf("output should hold one guarded fd_write, got %d ifs and %d calls", ifs, calls)
	}
}

func TestInputReadsIntoCell(t *testing.T) {
	e := &emitter{}
	e.input()

	want := []wasm.Instruction{
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: localIovec}},
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: localTape}},
		{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{Align: alignI32}},
	}
	for i, in := range want {
		if e.code[i] != in {
			t.Errorf("instruction %d: got %s, want %s", i, e.code[i], in)
		}
	}
	if idx, ok := e.code[len(e.code)-2].GetCallTarget(); !ok || idx != fdReadIndex {
		t.Errorf("expected fd_read call before drop, got %s", e.code[len(e.code)-2])
	}
}

func TestBrowserTargetFails(t *testing.T) {
	data, err := Generate(mustParse(t, "+."), TargetBrowser)
	if data != nil {
		t.Errorf("expected no bytes, got %d", len(data))
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGenerate, Kind: errors.KindUnsupportedTarget}) {
		t.Fatalf("expected unsupported target, got %v", err)
	}
	if !strings.Contains(err.Error(), "browser") {
		t.Errorf("error should name the target: %v", err)
	}
}

func TestMalformedPrograms(t *testing.T) {
	tests := []struct {
		name    string
		symbols string
		offset  int
	}{
		{"unmatched close", "+]", 1},
		{"unclosed open", "[[]", 0},
		{"close before open", "][", 0},
		{"innermost unclosed", "[+[", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := source.Filter([]byte(tt.symbols))
			_, err := Generate(p, TargetWASI)

			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %v", err)
			}
			if e.Kind != errors.KindMalformedProgram {
				t.Errorf("kind: got %s", e.Kind)
			}
			if e.Pos == nil || e.Pos.Offset != tt.offset {
				t.Errorf("position: got %v, want offset %d", e.Pos, tt.offset)
			}
		})
	}
}

func TestDeepNesting(t *testing.T) {
	const depth = 20000
	p := source.Filter([]byte(strings.Repeat("[", depth) + "+" + strings.Repeat("]", depth)))
	data, err := Generate(p, TargetWASI)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty module")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{"wasi", TargetWASI, false},
		{"", TargetWASI, false},
		{"WASI", TargetWASI, false},
		{"browser", TargetBrowser, false},
		{"native", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTarget(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseTarget(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
