package wasm

import (
	"fmt"
	"slices"
)

// valUnknown marks a polymorphic stack slot below an unreachable instruction.
const valUnknown ValType = 0

type effect struct {
	pops []ValType
	push []ValType
}

var (
	i32      = []ValType{ValI32}
	i64      = []ValType{ValI64}
	i32i32   = []ValType{ValI32, ValI32}
	i64i64   = []ValType{ValI64, ValI64}
	unaryI32 = effect{pops: i32, push: i32}
	binI32   = effect{pops: i32i32, push: i32}
	binI64   = effect{pops: i64i64, push: i64}
)

// stackEffects lists the immediate-free numeric opcodes and their signatures.
var stackEffects = map[byte]effect{
	OpI32Eqz: unaryI32,
	OpI32Eq:  binI32, OpI32Ne: binI32,
	OpI32LtS: binI32, OpI32LtU: binI32, OpI32GtS: binI32, OpI32GtU: binI32,
	OpI32LeS: binI32, OpI32LeU: binI32, OpI32GeS: binI32, OpI32GeU: binI32,
	OpI64Eqz: {pops: i64, push: i32},
	OpI64Eq:  {pops: i64i64, push: i32}, OpI64Ne: {pops: i64i64, push: i32},
	OpI32Clz: unaryI32, OpI32Ctz: unaryI32, OpI32Popcnt: unaryI32,
	OpI32Add: binI32, OpI32Sub: binI32, OpI32Mul: binI32,
	OpI32DivS: binI32, OpI32DivU: binI32, OpI32RemS: binI32, OpI32RemU: binI32,
	OpI32And: binI32, OpI32Or: binI32, OpI32Xor: binI32,
	OpI32Shl: binI32, OpI32ShrS: binI32, OpI32ShrU: binI32, OpI32Rotl: binI32, OpI32Rotr: binI32,
	OpI64Add: binI64, OpI64Sub: binI64, OpI64Mul: binI64,
	OpI32WrapI64:    {pops: i64, push: i32},
	OpI64ExtendI32S: {pops: i32, push: i64},
	OpI64ExtendI32U: {pops: i32, push: i64},
	OpI32Extend8S:   unaryI32,
	OpI32Extend16S:  unaryI32,
}

type memAccess struct {
	val      ValType
	maxAlign uint32
	store    bool
}

var memAccesses = map[byte]memAccess{
	OpI32Load:    {val: ValI32, maxAlign: 2},
	OpI64Load:    {val: ValI64, maxAlign: 3},
	OpI32Load8S:  {val: ValI32, maxAlign: 0},
	OpI32Load8U:  {val: ValI32, maxAlign: 0},
	OpI32Load16S: {val: ValI32, maxAlign: 1},
	OpI32Load16U: {val: ValI32, maxAlign: 1},
	OpI32Store:   {val: ValI32, maxAlign: 2, store: true},
	OpI64Store:   {val: ValI64, maxAlign: 3, store: true},
	OpI32Store8:  {val: ValI32, maxAlign: 0, store: true},
	OpI32Store16: {val: ValI32, maxAlign: 1, store: true},
}

type ctrlFrame struct {
	params      []ValType
	results     []ValType
	height      int
	opcode      byte
	unreachable bool
}

// labelTypes are the operand types a branch to this frame must supply.
func (f *ctrlFrame) labelTypes() []ValType {
	if f.opcode == OpLoop {
		return f.params
	}
	return f.results
}

type codeValidator struct {
	m       *Module
	locals  []ValType
	results []ValType
	vals    []ValType
	ctrls   []ctrlFrame
}

// ValidateCode type-checks every function body against the module's index
// spaces: operand stack types, block arity, branch depths, and local,
// global, function, and memory indices.
func (m *Module) ValidateCode() error {
	imported := uint32(m.NumImportedFuncs())
	for i := range m.Code {
		funcIdx := imported + uint32(i)
		ft := m.GetFuncType(funcIdx)
		if ft == nil {
			return fmt.Errorf("function %d has no type", funcIdx)
		}
		if err := m.validateBody(ft, &m.Code[i]); err != nil {
			return fmt.Errorf("function %d: %w", funcIdx, err)
		}
	}
	return nil
}

func (m *Module) validateBody(ft *FuncType, body *FuncBody) error {
	instrs, err := DecodeInstructions(body.Code)
	if err != nil {
		return err
	}

	locals := append([]ValType(nil), ft.Params...)
	for _, l := range body.Locals {
		for j := uint32(0); j < l.Count; j++ {
			locals = append(locals, l.ValType)
		}
	}

	v := &codeValidator{m: m, locals: locals, results: ft.Results}
	v.pushCtrl(OpBlock, nil, ft.Results)

	for pc := range instrs {
		if len(v.ctrls) == 0 {
			return fmt.Errorf("instruction %d (%s) after function end", pc, instrs[pc])
		}
		if err := v.step(&instrs[pc]); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", pc, instrs[pc], err)
		}
	}
	if len(v.ctrls) != 0 {
		return fmt.Errorf("%d unclosed blocks", len(v.ctrls))
	}
	return nil
}

func (v *codeValidator) step(in *Instruction) error {
	switch in.Opcode {
	case OpUnreachable:
		v.setUnreachable()
	case OpNop:

	case OpBlock, OpLoop, OpIf:
		params, results, err := v.blockType(in.Imm.(BlockImm).Type)
		if err != nil {
			return err
		}
		if in.Opcode == OpIf {
			if err := v.popExpect(ValI32); err != nil {
				return err
			}
		}
		if err := v.popVals(params); err != nil {
			return err
		}
		v.pushCtrl(in.Opcode, params, results)

	case OpElse:
		f, err := v.popCtrl()
		if err != nil {
			return err
		}
		if f.opcode != OpIf {
			return fmt.Errorf("else without matching if")
		}
		v.pushCtrl(OpElse, f.params, f.results)

	case OpEnd:
		f, err := v.popCtrl()
		if err != nil {
			return err
		}
		if f.opcode == OpIf && !slices.Equal(f.params, f.results) {
			return fmt.Errorf("if without else must leave its parameters unchanged")
		}
		v.pushVals(f.results)

	case OpBr:
		types, err := v.label(in.Imm.(BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if err := v.popVals(types); err != nil {
			return err
		}
		v.setUnreachable()

	case OpBrIf:
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		types, err := v.label(in.Imm.(BranchImm).LabelIdx)
		if err != nil {
			return err
		}
		if err := v.popVals(types); err != nil {
			return err
		}
		v.pushVals(types)

	case OpBrTable:
		imm := in.Imm.(BrTableImm)
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		def, err := v.label(imm.Default)
		if err != nil {
			return err
		}
		for _, l := range imm.Labels {
			types, err := v.label(l)
			if err != nil {
				return err
			}
			if len(types) != len(def) {
				return fmt.Errorf("br_table label %d arity %d, default arity %d", l, len(types), len(def))
			}
		}
		if err := v.popVals(def); err != nil {
			return err
		}
		v.setUnreachable()

	case OpReturn:
		if err := v.popVals(v.results); err != nil {
			return err
		}
		v.setUnreachable()

	case OpCall:
		idx := in.Imm.(CallImm).FuncIdx
		ft := v.m.GetFuncType(idx)
		if ft == nil {
			return fmt.Errorf("call to unknown function %d", idx)
		}
		if err := v.popVals(ft.Params); err != nil {
			return err
		}
		v.pushVals(ft.Results)

	case OpDrop:
		if _, err := v.pop(); err != nil {
			return err
		}

	case OpSelect:
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		t1, err := v.pop()
		if err != nil {
			return err
		}
		t2, err := v.popExpectType(t1)
		if err != nil {
			return err
		}
		if t1 == valUnknown {
			t1 = t2
		}
		v.push(t1)

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx := in.Imm.(LocalImm).LocalIdx
		if int(idx) >= len(v.locals) {
			return fmt.Errorf("local index %d out of range (%d locals)", idx, len(v.locals))
		}
		t := v.locals[idx]
		switch in.Opcode {
		case OpLocalGet:
			v.push(t)
		case OpLocalSet:
			return v.popExpect(t)
		case OpLocalTee:
			if err := v.popExpect(t); err != nil {
				return err
			}
			v.push(t)
		}

	case OpGlobalGet, OpGlobalSet:
		idx := in.Imm.(GlobalImm).GlobalIdx
		g := v.m.GlobalTypeAt(idx)
		if g == nil {
			return fmt.Errorf("global index %d out of range", idx)
		}
		if in.Opcode == OpGlobalGet {
			v.push(g.ValType)
			return nil
		}
		if !g.Mutable {
			return fmt.Errorf("global %d is immutable", idx)
		}
		return v.popExpect(g.ValType)

	case OpMemorySize, OpMemoryGrow:
		if err := v.requireMemory(in.Imm.(MemoryIdxImm).MemIdx); err != nil {
			return err
		}
		if in.Opcode == OpMemoryGrow {
			if err := v.popExpect(ValI32); err != nil {
				return err
			}
		}
		v.push(ValI32)

	case OpI32Const:
		v.push(ValI32)
	case OpI64Const:
		v.push(ValI64)

	default:
		if acc, ok := memAccesses[in.Opcode]; ok {
			return v.memory(in.Imm.(MemoryImm), acc)
		}
		eff, ok := stackEffects[in.Opcode]
		if !ok {
			return fmt.Errorf("unsupported opcode 0x%02x", in.Opcode)
		}
		if err := v.popVals(eff.pops); err != nil {
			return err
		}
		v.pushVals(eff.push)
	}
	return nil
}

func (v *codeValidator) memory(imm MemoryImm, acc memAccess) error {
	if err := v.requireMemory(0); err != nil {
		return err
	}
	if imm.Align > acc.maxAlign {
		return fmt.Errorf("alignment 2^%d exceeds natural alignment 2^%d", imm.Align, acc.maxAlign)
	}
	if acc.store {
		if err := v.popExpect(acc.val); err != nil {
			return err
		}
		return v.popExpect(ValI32)
	}
	if err := v.popExpect(ValI32); err != nil {
		return err
	}
	v.push(acc.val)
	return nil
}

func (v *codeValidator) requireMemory(idx uint32) error {
	n := v.m.NumImportedMemories() + len(v.m.Memories)
	if int(idx) >= n {
		return fmt.Errorf("memory index %d out of range (%d memories)", idx, n)
	}
	return nil
}

func (v *codeValidator) blockType(bt int32) (params, results []ValType, err error) {
	switch bt {
	case BlockTypeVoid:
		return nil, nil, nil
	case BlockTypeI32:
		return nil, []ValType{ValI32}, nil
	case BlockTypeI64:
		return nil, []ValType{ValI64}, nil
	case -3:
		return nil, []ValType{ValF32}, nil
	case -4:
		return nil, []ValType{ValF64}, nil
	}
	if bt < 0 || int(bt) >= len(v.m.Types) {
		return nil, nil, fmt.Errorf("invalid block type %d", bt)
	}
	ft := v.m.Types[bt]
	return ft.Params, ft.Results, nil
}

func (v *codeValidator) label(depth uint32) ([]ValType, error) {
	if int(depth) >= len(v.ctrls) {
		return nil, fmt.Errorf("branch depth %d exceeds nesting %d", depth, len(v.ctrls))
	}
	return v.ctrls[len(v.ctrls)-1-int(depth)].labelTypes(), nil
}

func (v *codeValidator) push(t ValType) {
	v.vals = append(v.vals, t)
}

func (v *codeValidator) pushVals(ts []ValType) {
	v.vals = append(v.vals, ts...)
}

func (v *codeValidator) pop() (ValType, error) {
	f := &v.ctrls[len(v.ctrls)-1]
	if len(v.vals) == f.height {
		if f.unreachable {
			return valUnknown, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := v.vals[len(v.vals)-1]
	v.vals = v.vals[:len(v.vals)-1]
	return t, nil
}

func (v *codeValidator) popExpectType(want ValType) (ValType, error) {
	got, err := v.pop()
	if err != nil {
		return 0, err
	}
	if got != want && got != valUnknown && want != valUnknown {
		return 0, fmt.Errorf("type mismatch: expected %s, got %s", want, got)
	}
	return got, nil
}

func (v *codeValidator) popExpect(want ValType) error {
	_, err := v.popExpectType(want)
	return err
}

func (v *codeValidator) popVals(ts []ValType) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if err := v.popExpect(ts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *codeValidator) pushCtrl(op byte, params, results []ValType) {
	v.ctrls = append(v.ctrls, ctrlFrame{
		opcode:  op,
		params:  params,
		results: results,
		height:  len(v.vals),
	})
	v.pushVals(params)
}

func (v *codeValidator) popCtrl() (ctrlFrame, error) {
	if len(v.ctrls) == 0 {
		return ctrlFrame{}, fmt.Errorf("control stack underflow")
	}
	f := v.ctrls[len(v.ctrls)-1]
	if err := v.popVals(f.results); err != nil {
		return ctrlFrame{}, err
	}
	if len(v.vals) != f.height {
		return ctrlFrame{}, fmt.Errorf("%d values left on stack at block end", len(v.vals)-f.height)
	}
	v.ctrls = v.ctrls[:len(v.ctrls)-1]
	return f, nil
}

func (v *codeValidator) setUnreachable() {
	f := &v.ctrls[len(v.ctrls)-1]
	v.vals = v.vals[:f.height]
	f.unreachable = true
}
