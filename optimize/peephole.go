package optimize

import (
	"context"
	"fmt"

	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/wasm"
)

// Peephole is an in-process rewriter for the instruction shapes the code
// generator emits. It recognises three groups in every function body:
//
//	local.get L; i32.const k; i32.add|i32.sub; local.set L                      pointer move
//	local.get L; local.get L; i32.load m; i32.const k; i32.add|sub; i32.store m  cell add
//	block; <cell==0> br_if 0; loop; <cell add, odd k>; <cell!=0> br_if 0; end; end  clear loop
//
// Adjacent moves on the same local and adjacent adds on the same cell are
// folded; groups whose net delta is zero disappear. A clear loop becomes a
// single store of 0. Any other instruction passes through untouched and
// ends a fold run.
type Peephole struct{}

func (Peephole) Name() string { return "peephole" }

// Optimize rewrites every function body of module.
func (Peephole) Optimize(ctx context.Context, module []byte) ([]byte, error) {
	m, err := wasm.ParseModule(module)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseOptimize, errors.KindInvalidData, err, "decode module")
	}
	for i := range m.Code {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.PhaseOptimize, errors.KindToolFailed, err, "peephole cancelled")
		}
		instrs, err := wasm.DecodeInstructions(m.Code[i].Code)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseOptimize, errors.KindInvalidData, err, fmt.Sprintf("decode body %d", i))
		}
		m.Code[i].Code = wasm.EncodeInstructions(Rewrite(instrs))
	}
	return m.Encode(), nil
}

type groupKind uint8

const (
	groupRaw groupKind = iota
	groupMove
	groupAdd
	groupClear
)

// group is either one untouched instruction or a recognised pattern.
type group struct {
	instr wasm.Instruction
	mem   wasm.MemoryImm
	local uint32
	delta int32
	kind  groupKind
}

// Rewrite applies the peephole folds to one instruction sequence.
func Rewrite(instrs []wasm.Instruction) []wasm.Instruction {
	var stack []group
	for i := 0; i < len(instrs); {
		g, n := match(instrs[i:])
		i += n
		stack = push(stack, g)
	}

	out := make([]wasm.Instruction, 0, len(instrs))
	for _, g := range stack {
		out = g.emit(out)
	}
	return out
}

// push appends g, merging it into the previous group when both touch the
// same pointer or cell. A merge that cancels out removes the group, which
// can expose another merge with the one beneath it.
func push(stack []group, g group) []group {
	for {
		if len(stack) == 0 {
			break
		}
		top := &stack[len(stack)-1]
		if g.kind == groupRaw || g.kind != top.kind || g.kind == groupClear ||
			g.local != top.local || g.mem != top.mem {
			break
		}
		g.delta += top.delta
		stack = stack[:len(stack)-1]
		if g.delta == 0 {
			return stack
		}
	}
	if g.kind == groupMove || g.kind == groupAdd {
		if g.delta == 0 {
			return stack
		}
	}
	stack = append(stack, g)
	if g.kind == groupRaw && g.instr.Opcode == wasm.OpEnd {
		stack = foldClearLoop(stack)
	}
	return stack
}

// clearLoopTail is the raw suffix of a clear loop after its cell add.
var clearLoopTail = []byte{
	wasm.OpLocalGet, wasm.OpI32Load, wasm.OpI32Const, wasm.OpI32Ne, wasm.OpBrIf, wasm.OpEnd, wasm.OpEnd,
}

// clearLoopHead is the raw prefix of a clear loop before its cell add.
var clearLoopHead = []byte{
	wasm.OpBlock, wasm.OpLocalGet, wasm.OpI32Load, wasm.OpI32Eqz, wasm.OpBrIf, wasm.OpLoop,
}

// foldClearLoop replaces a loop at the top of the stack whose whole body is
// one odd cell add. An odd step reaches zero from any 32-bit start value.
func foldClearLoop(stack []group) []group {
	n := len(clearLoopHead) + 1 + len(clearLoopTail)
	if len(stack) < n {
		return stack
	}
	win := stack[len(stack)-n:]
	head, add, tail := win[:len(clearLoopHead)], win[len(clearLoopHead)], win[len(clearLoopHead)+1:]

	if add.kind != groupAdd || add.delta%2 == 0 {
		return stack
	}
	if !rawOps(head, clearLoopHead) || !rawOps(tail, clearLoopTail) {
		return stack
	}
	if !voidBlock(head[0]) || !voidBlock(head[5]) {
		return stack
	}
	if !readsCell(head[1], head[2], add) || !readsCell(tail[0], tail[1], add) {
		return stack
	}
	if !branchTo(head[4], 0) || !branchTo(tail[4], 0) {
		return stack
	}
	if c, ok := tail[2].instr.Imm.(wasm.I32Imm); !ok || c.Value != 0 {
		return stack
	}

	stack = stack[:len(stack)-n]
	return append(stack, group{kind: groupClear, local: add.local, mem: add.mem})
}

func rawOps(gs []group, ops []byte) bool {
	for i, g := range gs {
		if g.kind != groupRaw || g.instr.Opcode != ops[i] {
			return false
		}
	}
	return true
}

func voidBlock(g group) bool {
	b, ok := g.instr.Imm.(wasm.BlockImm)
	return ok && b.Type == wasm.BlockTypeVoid
}

func branchTo(g group, depth uint32) bool {
	b, ok := g.instr.Imm.(wasm.BranchImm)
	return ok && b.LabelIdx == depth
}

func readsCell(get, load group, add group) bool {
	l, ok := get.instr.Imm.(wasm.LocalImm)
	if !ok || l.LocalIdx != add.local {
		return false
	}
	m, ok := load.instr.Imm.(wasm.MemoryImm)
	return ok && m == add.mem
}

// match recognises a group at the start of instrs and returns it with the
// number of instructions it spans.
func match(instrs []wasm.Instruction) (group, int) {
	if g, ok := matchMove(instrs); ok {
		return g, 4
	}
	if g, ok := matchAdd(instrs); ok {
		return g, 6
	}
	return group{kind: groupRaw, instr: instrs[0]}, 1
}

func matchMove(in []wasm.Instruction) (group, bool) {
	if len(in) < 4 {
		return group{}, false
	}
	get, ok1 := localOf(in[0], wasm.OpLocalGet)
	k, ok2 := constOf(in[1])
	sign, ok3 := signOf(in[2])
	set, ok4 := localOf(in[3], wasm.OpLocalSet)
	if !ok1 || !ok2 || !ok3 || !ok4 || get != set {
		return group{}, false
	}
	return group{kind: groupMove, local: get, delta: sign * k}, true
}

func matchAdd(in []wasm.Instruction) (group, bool) {
	if len(in) < 6 {
		return group{}, false
	}
	addr, ok1 := localOf(in[0], wasm.OpLocalGet)
	src, ok2 := localOf(in[1], wasm.OpLocalGet)
	load, ok3 := memOf(in[2], wasm.OpI32Load)
	k, ok4 := constOf(in[3])
	sign, ok5 := signOf(in[4])
	store, ok6 := memOf(in[5], wasm.OpI32Store)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || addr != src || load != store {
		return group{}, false
	}
	return group{kind: groupAdd, local: addr, mem: load, delta: sign * k}, true
}

func localOf(in wasm.Instruction, op byte) (uint32, bool) {
	if in.Opcode != op {
		return 0, false
	}
	l, ok := in.Imm.(wasm.LocalImm)
	return l.LocalIdx, ok
}

func constOf(in wasm.Instruction) (int32, bool) {
	if in.Opcode != wasm.OpI32Const {
		return 0, false
	}
	c, ok := in.Imm.(wasm.I32Imm)
	return c.Value, ok
}

func signOf(in wasm.Instruction) (int32, bool) {
	switch in.Opcode {
	case wasm.OpI32Add:
		return 1, true
	case wasm.OpI32Sub:
		return -1, true
	}
	return 0, false
}

func memOf(in wasm.Instruction, op byte) (wasm.MemoryImm, bool) {
	if in.Opcode != op {
		return wasm.MemoryImm{}, false
	}
	m, ok := in.Imm.(wasm.MemoryImm)
	return m, ok
}

func (g group) emit(out []wasm.Instruction) []wasm.Instruction {
	get := wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: g.local}}
	switch g.kind {
	case groupMove:
		op, k := addOrSub(g.delta)
		return append(out,
			get,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: k}},
			wasm.Instruction{Opcode: op},
			wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: g.local}},
		)
	case groupAdd:
		op, k := addOrSub(g.delta)
		return append(out,
			get,
			get,
			wasm.Instruction{Opcode: wasm.OpI32Load, Imm: g.mem},
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: k}},
			wasm.Instruction{Opcode: op},
			wasm.Instruction{Opcode: wasm.OpI32Store, Imm: g.mem},
		)
	case groupClear:
		return append(out,
			get,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
			wasm.Instruction{Opcode: wasm.OpI32Store, Imm: g.mem},
		)
	default:
		return append(out, g.instr)
	}
}

// addOrSub keeps constants positive where it can. The most negative int32
// has no positive counterpart and is added as is.
func addOrSub(delta int32) (byte, int32) {
	if delta < 0 && delta != -delta {
		return wasm.OpI32Sub, -delta
	}
	return wasm.OpI32Add, delta
}
