package wasm

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wippyai/brainwasm/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// maxLocals bounds the declared locals of one body.
const maxLocals = 50000

type sectionParser struct {
	name  string
	parse func(*binary.Reader, *Module) error
}

var sectionParsers = map[byte]sectionParser{
	SectionCustom:   {"custom section", parseCustomSection},
	SectionType:     {"type section", parseTypeSection},
	SectionImport:   {"import section", parseImportSection},
	SectionFunction: {"function section", parseFunctionSection},
	SectionMemory:   {"memory section", parseMemorySection},
	SectionGlobal:   {"global section", parseGlobalSection},
	SectionExport:   {"export section", parseExportSection},
	SectionStart:    {"start section", parseStartSection},
	SectionCode:     {"code section", parseCodeSection},
	SectionData:     {"data section", parseDataSection},
}

// ParseModule decodes a binary module. Only MVP sections are accepted;
// table and element sections are reported as unsupported.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)
	if err := readHeader(r); err != nil {
		return nil, err
	}

	m := &Module{}
	var last byte
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		// custom sections may appear anywhere
		if id != SectionCustom {
			if id <= last {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			last = id
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		p, ok := sectionParsers[id]
		if !ok {
			if id == SectionTable || id == SectionElement {
				return nil, fmt.Errorf("unsupported section ID: %d", id)
			}
			return nil, fmt.Errorf("unknown section ID: 0x%02x", id)
		}
		sr := binary.NewReader(payload)
		if err := p.parse(sr, m); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		if id != SectionCustom && sr.Len() != 0 {
			return nil, fmt.Errorf("%s: %d trailing bytes", p.name, sr.Len())
		}
	}
	return m, nil
}

func readHeader(r *binary.Reader) error {
	magic, err := r.ReadU32LE()
	if err != nil {
		return r.WrapError("header", err)
	}
	if magic != Magic {
		return ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return r.WrapError("header", err)
	}
	if version != Version {
		return ErrInvalidVersion
	}
	return nil
}

// readVec reads a count-prefixed vector, decoding each element with one.
func readVec[T any](r *binary.Reader, one func(r *binary.Reader, i int) (T, error)) ([]T, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	// every element takes at least one byte
	if int(count) > r.Len() {
		return nil, fmt.Errorf("vector length %d exceeds remaining %d bytes", count, r.Len())
	}
	out := make([]T, count)
	for i := range out {
		if out[i], err = one(r, i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: bytes.Clone(r.ReadRemaining()),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) (err error) {
	m.Types, err = readVec(r, func(r *binary.Reader, i int) (FuncType, error) {
		form, err := r.ReadByte()
		if err != nil {
			return FuncType{}, fmt.Errorf("type %d: %w", i, err)
		}
		if form != FuncTypeByte {
			return FuncType{}, fmt.Errorf("type %d: expected functype (0x60), got 0x%02x", i, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return FuncType{}, err
		}
		results, err := readValTypes(r)
		if err != nil {
			return FuncType{}, err
		}
		return FuncType{Params: params, Results: results}, nil
	})
	return err
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	types, err := readVec(r, func(r *binary.Reader, _ int) (ValType, error) {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !ValType(b).valid() {
			return 0, fmt.Errorf("invalid value type 0x%02x", b)
		}
		return ValType(b), nil
	})
	if len(types) == 0 {
		return nil, err
	}
	return types, err
}

func parseImportSection(r *binary.Reader, m *Module) (err error) {
	m.Imports, err = readVec(r, func(r *binary.Reader, _ int) (Import, error) {
		var imp Import
		var err error
		if imp.Module, err = r.ReadName(); err != nil {
			return imp, err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return imp, err
		}
		if imp.Desc.Kind, err = r.ReadByte(); err != nil {
			return imp, err
		}
		switch imp.Desc.Kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindMemory:
			var l Limits
			l, err = readLimits(r)
			imp.Desc.Memory = &MemoryType{Limits: l}
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		default:
			err = fmt.Errorf("unsupported import kind: %d", imp.Desc.Kind)
		}
		return imp, err
	})
	return err
}

func parseFunctionSection(r *binary.Reader, m *Module) (err error) {
	m.Funcs, err = readVec(r, func(r *binary.Reader, _ int) (uint32, error) {
		return r.ReadU32()
	})
	return err
}

func parseMemorySection(r *binary.Reader, m *Module) (err error) {
	m.Memories, err = readVec(r, func(r *binary.Reader, _ int) (MemoryType, error) {
		l, err := readLimits(r)
		return MemoryType{Limits: l}, err
	})
	return err
}

func parseGlobalSection(r *binary.Reader, m *Module) (err error) {
	m.Globals, err = readVec(r, func(r *binary.Reader, _ int) (Global, error) {
		t, err := readGlobalType(r)
		if err != nil {
			return Global{}, err
		}
		init, err := readInitExpr(r)
		return Global{Type: t, Init: init}, err
	})
	return err
}

func parseExportSection(r *binary.Reader, m *Module) (err error) {
	m.Exports, err = readVec(r, func(r *binary.Reader, _ int) (Export, error) {
		var e Export
		var err error
		if e.Name, err = r.ReadName(); err != nil {
			return e, err
		}
		if e.Kind, err = r.ReadByte(); err != nil {
			return e, err
		}
		if e.Kind > KindGlobal {
			return e, fmt.Errorf("invalid export kind: 0x%02x", e.Kind)
		}
		e.Idx, err = r.ReadU32()
		return e, err
	})
	return err
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) (err error) {
	m.Code, err = readVec(r, func(r *binary.Reader, i int) (FuncBody, error) {
		size, err := r.ReadU32()
		if err != nil {
			return FuncBody{}, err
		}
		raw, err := r.ReadBytes(int(size))
		if err != nil {
			return FuncBody{}, fmt.Errorf("body %d: %w", i, err)
		}
		body, err := readBody(binary.NewReader(raw))
		if err != nil {
			return FuncBody{}, fmt.Errorf("body %d: %w", i, err)
		}
		return body, nil
	})
	return err
}

func readBody(r *binary.Reader) (FuncBody, error) {
	var body FuncBody
	var total uint64
	locals, err := readVec(r, func(r *binary.Reader, _ int) (LocalEntry, error) {
		n, err := r.ReadU32()
		if err != nil {
			return LocalEntry{}, err
		}
		t, err := r.ReadByte()
		if err != nil {
			return LocalEntry{}, err
		}
		if !ValType(t).valid() {
			return LocalEntry{}, fmt.Errorf("invalid local type 0x%02x", t)
		}
		if total += uint64(n); total > maxLocals {
			return LocalEntry{}, errors.New("too many locals")
		}
		return LocalEntry{Count: n, ValType: ValType(t)}, nil
	})
	if err != nil {
		return body, fmt.Errorf("locals: %w", err)
	}
	if len(locals) > 0 {
		body.Locals = locals
	}
	body.Code = bytes.Clone(r.ReadRemaining())
	if len(body.Code) == 0 || body.Code[len(body.Code)-1] != OpEnd {
		return body, errors.New("missing end opcode")
	}
	return body, nil
}

func parseDataSection(r *binary.Reader, m *Module) (err error) {
	m.Data, err = readVec(r, func(r *binary.Reader, i int) (DataSegment, error) {
		flags, err := r.ReadU32()
		if err != nil {
			return DataSegment{}, err
		}
		if flags != 0 {
			return DataSegment{}, fmt.Errorf("data segment %d: unsupported flags %d", i, flags)
		}
		offset, err := readInitExpr(r)
		if err != nil {
			return DataSegment{}, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return DataSegment{}, err
		}
		init, err := r.ReadBytes(int(size))
		if err != nil {
			return DataSegment{}, err
		}
		return DataSegment{Offset: offset, Init: bytes.Clone(init)}, nil
	})
	return err
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags != LimitsNoMax && flags != LimitsHasMax {
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}
	var l Limits
	if l.Min, err = r.ReadU32(); err != nil {
		return Limits{}, err
	}
	if flags == LimitsHasMax {
		maxPages, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxPages
	}
	return l, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if !ValType(t).valid() {
		return GlobalType{}, fmt.Errorf("invalid global type 0x%02x", t)
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return GlobalType{ValType: ValType(t), Mutable: mut == 1}, nil
}

// readInitExpr copies a constant expression up to and including its end
// opcode, re-encoding immediates in canonical form.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var expr []byte
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		expr = append(expr, op)
		switch op {
		case OpEnd:
			return expr, nil
		case OpI32Const, OpI64Const:
			bits := uint(32)
			if op == OpI64Const {
				bits = 64
			}
			v, err := binary.DecodeSigned(r, bits)
			if err != nil {
				return nil, err
			}
			expr = binary.AppendS64(expr, v)
		case OpGlobalGet:
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			expr = binary.AppendU32(expr, v)
		default:
			return nil, fmt.Errorf("unsupported opcode 0x%02x in constant expression", op)
		}
	}
}
