package wasm

import (
	"fmt"

	"github.com/wippyai/brainwasm/wasm/internal/binary"
)

// Instruction is one decoded instruction. Imm is nil or one of the *Imm
// types below, chosen by Opcode.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm is the block type of block, loop and if:
// -64 void, -1 i32, -2 i64, >= 0 a type index.
type BlockImm struct {
	Type int32
}

// BranchImm is the relative label depth of br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm is the label table of br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

type CallImm struct {
	FuncIdx uint32
}

type LocalImm struct {
	LocalIdx uint32
}

type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm is the memarg of loads and stores. Align is log2 bytes.
type MemoryImm struct {
	Align  uint32
	Offset uint32
}

// MemoryIdxImm is the memory index of memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

type I32Imm struct {
	Value int32
}

type I64Imm struct {
	Value int64
}

// GetCallTarget returns the callee of a call instruction.
func (i Instruction) GetCallTarget() (uint32, bool) {
	imm, ok := i.Imm.(CallImm)
	return imm.FuncIdx, ok && i.Opcode == OpCall
}

func (i Instruction) String() string {
	name := opcodeName(i.Opcode)
	switch imm := i.Imm.(type) {
	case nil:
		return name
	case BlockImm:
		return fmt.Sprintf("%s %d", name, imm.Type)
	case BranchImm:
		return fmt.Sprintf("%s %d", name, imm.LabelIdx)
	case CallImm:
		return fmt.Sprintf("%s %d", name, imm.FuncIdx)
	case LocalImm:
		return fmt.Sprintf("%s %d", name, imm.LocalIdx)
	case GlobalImm:
		return fmt.Sprintf("%s %d", name, imm.GlobalIdx)
	case MemoryImm:
		return fmt.Sprintf("%s offset=%d align=%d", name, imm.Offset, imm.Align)
	case I32Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case I64Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	default:
		return fmt.Sprintf("%s %v", name, imm)
	}
}

type immReader func(r *binary.Reader) (any, error)

var immReaders = map[byte]immReader{}

func register(read immReader, ops ...byte) {
	for _, op := range ops {
		immReaders[op] = read
	}
}

func init() {
	register(func(r *binary.Reader) (any, error) {
		v, err := binary.DecodeSigned(r, 32)
		return BlockImm{Type: int32(v)}, err
	}, OpBlock, OpLoop, OpIf)
	register(func(r *binary.Reader) (any, error) {
		v, err := r.ReadU32()
		return BranchImm{LabelIdx: v}, err
	}, OpBr, OpBrIf)
	register(readBrTable, OpBrTable)
	register(func(r *binary.Reader) (any, error) {
		v, err := r.ReadU32()
		return CallImm{FuncIdx: v}, err
	}, OpCall)
	register(func(r *binary.Reader) (any, error) {
		v, err := r.ReadU32()
		return LocalImm{LocalIdx: v}, err
	}, OpLocalGet, OpLocalSet, OpLocalTee)
	register(func(r *binary.Reader) (any, error) {
		v, err := r.ReadU32()
		return GlobalImm{GlobalIdx: v}, err
	}, OpGlobalGet, OpGlobalSet)
	register(readMemArg,
		OpI32Load, OpI64Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI32Store, OpI64Store, OpI32Store8, OpI32Store16)
	register(func(r *binary.Reader) (any, error) {
		v, err := r.ReadU32()
		return MemoryIdxImm{MemIdx: v}, err
	}, OpMemorySize, OpMemoryGrow)
	register(func(r *binary.Reader) (any, error) {
		v, err := binary.DecodeSigned(r, 32)
		return I32Imm{Value: int32(v)}, err
	}, OpI32Const)
	register(func(r *binary.Reader) (any, error) {
		v, err := binary.DecodeSigned(r, 64)
		return I64Imm{Value: v}, err
	}, OpI64Const)
}

// DecodeInstructions decodes a function body's code bytes. Opcodes outside
// the supported MVP subset are an error.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	for r.Len() > 0 {
		offset := r.Position()
		op, _ := r.ReadByte()
		in := Instruction{Opcode: op}

		if read, ok := immReaders[op]; ok {
			imm, err := read(r)
			if err != nil {
				return nil, fmt.Errorf("opcode 0x%02x at offset %d: %w", op, offset, err)
			}
			in.Imm = imm
		} else if _, ok := stackEffects[op]; !ok && !isControlNoImm(op) {
			return nil, fmt.Errorf("unsupported opcode 0x%02x at offset %d", op, offset)
		}
		instrs = append(instrs, in)
	}
	return instrs, nil
}

func isControlNoImm(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect:
		return true
	}
	return false
}

func readBrTable(r *binary.Reader) (any, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, fmt.Errorf("br_table count %d exceeds body", count)
	}
	imm := BrTableImm{Labels: make([]uint32, count)}
	for i := range imm.Labels {
		if imm.Labels[i], err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	imm.Default, err = r.ReadU32()
	return imm, err
}

func readMemArg(r *binary.Reader) (any, error) {
	align, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offset, err := r.ReadU32()
	return MemoryImm{Align: align, Offset: offset}, err
}

// AppendInstruction appends the binary form of in to dst.
func AppendInstruction(dst []byte, in Instruction) []byte {
	dst = append(dst, in.Opcode)
	switch imm := in.Imm.(type) {
	case BlockImm:
		dst = binary.AppendS64(dst, int64(imm.Type))
	case BranchImm:
		dst = binary.AppendU32(dst, imm.LabelIdx)
	case BrTableImm:
		dst = binary.AppendU32(dst, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			dst = binary.AppendU32(dst, l)
		}
		dst = binary.AppendU32(dst, imm.Default)
	case CallImm:
		dst = binary.AppendU32(dst, imm.FuncIdx)
	case LocalImm:
		dst = binary.AppendU32(dst, imm.LocalIdx)
	case GlobalImm:
		dst = binary.AppendU32(dst, imm.GlobalIdx)
	case MemoryImm:
		dst = binary.AppendU32(dst, imm.Align)
		dst = binary.AppendU32(dst, imm.Offset)
	case MemoryIdxImm:
		dst = binary.AppendU32(dst, imm.MemIdx)
	case I32Imm:
		dst = binary.AppendS64(dst, int64(imm.Value))
	case I64Imm:
		dst = binary.AppendS64(dst, imm.Value)
	}
	return dst
}

// EncodeInstructions encodes instrs back to code bytes.
func EncodeInstructions(instrs []Instruction) []byte {
	var out []byte
	for _, in := range instrs {
		out = AppendInstruction(out, in)
	}
	return out
}
