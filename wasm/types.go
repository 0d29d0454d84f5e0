package wasm

import "slices"

// Module is a decoded core module. Only the MVP sections used by generated
// programs are modelled; tables and elements are rejected on decode.
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // type index per defined function
	Memories       []MemoryType
	Globals        []Global
	Exports        []Export
	Start          *uint32
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection
}

type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (f FuncType) equal(o FuncType) bool {
	return slices.Equal(f.Params, o.Params) && slices.Equal(f.Results, o.Results)
}

type ValType byte

var valTypeNames = map[ValType]string{
	ValI32: "i32",
	ValI64: "i64",
	ValF32: "f32",
	ValF64: "f64",
}

func (v ValType) String() string {
	if s, ok := valTypeNames[v]; ok {
		return s
	}
	return "unknown"
}

func (v ValType) valid() bool {
	_, ok := valTypeNames[v]
	return ok
}

type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc is the imported entity. Kind selects which of TypeIdx,
// Memory or Global is meaningful.
type ImportDesc struct {
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

type MemoryType struct {
	Limits Limits
}

// Limits are in 64 KiB pages.
type Limits struct {
	Max *uint32
	Min uint32
}

type GlobalType struct {
	ValType ValType
	Mutable bool
}

type Global struct {
	Type GlobalType
	Init []byte // constant expression, end opcode included
}

type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // end opcode included
}

// NumLocals is the count of declared locals, parameters excluded.
func (b *FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is an active segment for memory 0.
type DataSegment struct {
	Offset []byte
	Init   []byte
}

type CustomSection struct {
	Name string
	Data []byte
}

func (m *Module) NumImportedFuncs() int    { return m.importCount(KindFunc) }
func (m *Module) NumImportedMemories() int { return m.importCount(KindMemory) }
func (m *Module) NumImportedGlobals() int  { return m.importCount(KindGlobal) }

func (m *Module) importCount(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

// importedAt returns the idx-th import of kind, or the index into the
// module's own definitions when idx is past the imports.
func (m *Module) importedAt(kind byte, idx uint32) (*Import, uint32) {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != kind {
			continue
		}
		if idx == 0 {
			return &m.Imports[i], 0
		}
		idx--
	}
	return nil, idx
}

// GetFuncType resolves a function index (imports first) to its signature.
// It returns nil for an index outside the function space.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	imp, local := m.importedAt(KindFunc, funcIdx)
	if imp != nil {
		return m.typeAt(imp.Desc.TypeIdx)
	}
	if int(local) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[local])
}

// GlobalTypeAt resolves a global index (imports first) to its type.
func (m *Module) GlobalTypeAt(idx uint32) *GlobalType {
	imp, local := m.importedAt(KindGlobal, idx)
	if imp != nil {
		return imp.Desc.Global
	}
	if int(local) >= len(m.Globals) {
		return nil
	}
	return &m.Globals[local].Type
}

func (m *Module) typeAt(idx uint32) *FuncType {
	if int(idx) >= len(m.Types) {
		return nil
	}
	return &m.Types[idx]
}

// AddType interns ft and returns its type index.
func (m *Module) AddType(ft FuncType) uint32 {
	if i := slices.IndexFunc(m.Types, ft.equal); i >= 0 {
		return uint32(i)
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func (m *Module) ExportByName(name string) (Export, bool) {
	i := slices.IndexFunc(m.Exports, func(e Export) bool { return e.Name == name })
	if i < 0 {
		return Export{}, false
	}
	return m.Exports[i], true
}
