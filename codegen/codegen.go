// Package codegen translates a filtered symbol stream into a WebAssembly
// core module with a single exported entry function.
//
// Loops lower to a guard block around a do-while loop:
//
//	[  ->  block; (cell == 0) br_if 0; loop
//	]  ->  (cell != 0) br_if 0; end; end
//
// so a loop entered with a zero cell runs its body zero times. Output is
// collected in a buffer and handed to fd_write when the buffer fills and
// once more at exit. Each ',' is one fd_read call straight into the cell.
package codegen

import (
	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/source"
	"github.com/wippyai/brainwasm/wasm"
)

// Generator produces module bytes for one target.
type Generator struct {
	Target Target
}

// Generate implements the pipeline generator stage.
func (g Generator) Generate(p source.Program) ([]byte, error) {
	return Generate(p, g.Target)
}

// Layout returns the memory layout of generated modules.
func (g Generator) Layout() Layout {
	return MemoryLayout()
}

// Generate returns the encoded module for p.
func Generate(p source.Program, target Target) ([]byte, error) {
	m, err := Build(p, target)
	if err != nil {
		return nil, err
	}
	return m.Encode(), nil
}

// Build returns the module for p without encoding it. The browser target
// fails before any code is produced.
func Build(p source.Program, target Target) (*wasm.Module, error) {
	if target != TargetWASI {
		return nil, errors.UnsupportedTarget(target.String())
	}

	code, err := translate(p)
	if err != nil {
		return nil, err
	}

	m := &wasm.Module{}
	void := m.AddType(wasm.FuncType{})
	iovec := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Imports = []wasm.Import{
		{Module: ImportModule, Name: "fd_read", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: iovec}},
		{Module: ImportModule, Name: "fd_write", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: iovec}},
	}
	m.Funcs = []uint32{void}
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: MemoryPages}}}
	m.Exports = []wasm.Export{
		{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		{Name: "_start", Kind: wasm.KindFunc, Idx: startIndex},
	}
	m.Code = []wasm.FuncBody{{
		Locals: []wasm.LocalEntry{{Count: numLocals, ValType: wasm.ValI32}},
		Code:   code,
	}}
	return m, nil
}

// translate emits the entry function body. Brackets are matched with an
// explicit stack so nesting depth is bounded only by memory.
func translate(p source.Program) ([]byte, error) {
	e := &emitter{}
	e.prologue()

	var open []int
	for i, s := range p.Symbols {
		switch s {
		case source.Left:
			e.movePointer(-CellSize)
		case source.Right:
			e.movePointer(CellSize)
		case source.Inc:
			e.addCell(1)
		case source.Dec:
			e.addCell(-1)
		case source.Output:
			e.output()
		case source.Input:
			e.input()
		case source.Open:
			open = append(open, i)
			e.loopStart()
		case source.Close:
			if len(open) == 0 {
				return nil, errors.MalformedProgram(p.Position(i), "unmatched ']'")
			}
			open = open[:len(open)-1]
			e.loopEnd()
		default:
			return nil, errors.New(errors.PhaseGenerate, errors.KindInvalidInput).
				At(p.Position(i)).
				Value(byte(s)).
				Detail("symbol %q outside the alphabet", string(rune(s))).
				Build()
		}
	}
	if len(open) > 0 {
		return nil, errors.MalformedProgram(p.Position(open[len(open)-1]), "unclosed '['")
	}

	e.flush()
	e.op(wasm.OpEnd)
	return wasm.EncodeInstructions(e.code), nil
}

type emitter struct {
	code []wasm.Instruction
}

func (e *emitter) op(code byte) {
	e.code = append(e.code, wasm.Instruction{Opcode: code})
}

func (e *emitter) i32(v int32) {
	e.code = append(e.code, wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}})
}

func (e *emitter) get(idx uint32) {
	e.code = append(e.code, wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}})
}

func (e *emitter) set(idx uint32) {
	e.code = append(e.code, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: idx}})
}

func (e *emitter) mem(code byte, align, offset uint32) {
	e.code = append(e.code, wasm.Instruction{Opcode: code, Imm: wasm.MemoryImm{Align: align, Offset: offset}})
}

func (e *emitter) block(code byte) {
	e.code = append(e.code, wasm.Instruction{Opcode: code, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
}

func (e *emitter) brIf(depth uint32) {
	e.code = append(e.code, wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: depth}})
}

func (e *emitter) call(idx uint32) {
	e.code = append(e.code, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}})
}

func (e *emitter) loadCell() {
	e.get(localTape)
	e.mem(wasm.OpI32Load, alignI32, 0)
}

func (e *emitter) prologue() {
	e.i32(TapeBase)
	e.set(localTape)
	e.i32(BufferBase)
	e.set(localCursor)
	e.i32(BufferBase + BufferCap)
	e.set(localCapEnd)
	e.i32(IovecBase)
	e.set(localIovec)
}

// movePointer shifts the tape pointer by delta bytes.
func (e *emitter) movePointer(delta int32) {
	e.get(localTape)
	if delta < 0 {
		e.i32(-delta)
		e.op(wasm.OpI32Sub)
	} else {
		e.i32(delta)
		e.op(wasm.OpI32Add)
	}
	e.set(localTape)
}

// addCell adds delta to the current cell with 32-bit wraparound.
func (e *emitter) addCell(delta int32) {
	e.get(localTape)
	e.loadCell()
	if delta < 0 {
		e.i32(-delta)
		e.op(wasm.OpI32Sub)
	} else {
		e.i32(delta)
		e.op(wasm.OpI32Add)
	}
	e.mem(wasm.OpI32Store, alignI32, 0)
}

// output appends the low byte of the cell to the buffer and flushes when
// the buffer is full.
func (e *emitter) output() {
	e.get(localCursor)
	e.loadCell()
	e.mem(wasm.OpI32Store8, alignByte, 0)

	e.get(localCursor)
	e.i32(1)
	e.op(wasm.OpI32Add)
	e.set(localCursor)

	e.get(localCursor)
	e.get(localCapEnd)
	e.op(wasm.OpI32Eq)
	e.block(wasm.OpIf)
	e.flush()
	e.op(wasm.OpEnd)
}

// flush hands [BufferBase, cursor) to fd_write and empties the buffer.
// The errno result is dropped.
func (e *emitter) flush() {
	e.get(localIovec)
	e.i32(BufferBase)
	e.mem(wasm.OpI32Store, alignI32, 0)

	e.get(localIovec)
	e.get(localCursor)
	e.i32(BufferBase)
	e.op(wasm.OpI32Sub)
	e.mem(wasm.OpI32Store, alignI32, iovecLenOff)

	e.i32(stdoutFD)
	e.get(localIovec)
	e.i32(1)
	e.i32(NBytesAddr)
	e.call(fdWriteIndex)
	e.op(wasm.OpDrop)

	e.i32(BufferBase)
	e.set(localCursor)
}

// input reads one byte over the low byte of the cell. The upper bytes are
// kept, and end of input leaves the whole cell unchanged.
func (e *emitter) input() {
	e.get(localIovec)
	e.get(localTape)
	e.mem(wasm.OpI32Store, alignI32, 0)

	e.get(localIovec)
	e.i32(1)
	e.mem(wasm.OpI32Store, alignI32, iovecLenOff)

	e.i32(stdinFD)
	e.get(localIovec)
	e.i32(1)
	e.i32(NBytesAddr)
	e.call(fdReadIndex)
	e.op(wasm.OpDrop)
}

func (e *emitter) loopStart() {
	e.block(wasm.OpBlock)
	e.loadCell()
	e.op(wasm.OpI32Eqz)
	e.brIf(0)
	e.block(wasm.OpLoop)
}

func (e *emitter) loopEnd() {
	e.loadCell()
	e.i32(0)
	e.op(wasm.OpI32Ne)
	e.brIf(0)
	e.op(wasm.OpEnd)
	e.op(wasm.OpEnd)
}
