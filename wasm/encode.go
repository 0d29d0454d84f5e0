package wasm

import (
	"github.com/wippyai/brainwasm/wasm/internal/binary"
)

// Encode returns the binary form of m. Sections are written in their
// canonical order and empty ones are left out.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	vector(w, SectionType, m.Types, func(s *binary.Writer, ft FuncType) {
		s.Byte(FuncTypeByte)
		writeValTypes(s, ft.Params)
		writeValTypes(s, ft.Results)
	})
	vector(w, SectionImport, m.Imports, writeImport)
	vector(w, SectionFunction, m.Funcs, (*binary.Writer).WriteU32)
	vector(w, SectionMemory, m.Memories, func(s *binary.Writer, mem MemoryType) {
		writeLimits(s, mem.Limits)
	})
	vector(w, SectionGlobal, m.Globals, func(s *binary.Writer, g Global) {
		writeGlobalType(s, g.Type)
		s.WriteBytes(g.Init)
	})
	vector(w, SectionExport, m.Exports, func(s *binary.Writer, e Export) {
		s.WriteName(e.Name)
		s.Byte(e.Kind)
		s.WriteU32(e.Idx)
	})
	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		w.Section(SectionStart, sec)
	}
	vector(w, SectionCode, m.Code, writeBody)
	vector(w, SectionData, m.Data, func(s *binary.Writer, d DataSegment) {
		s.WriteU32(0) // active segment in memory 0
		s.WriteBytes(d.Offset)
		s.WriteU32(uint32(len(d.Init)))
		s.WriteBytes(d.Init)
	})

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		w.Section(SectionCustom, sec)
	}
	return w.Bytes()
}

// vector writes a count-prefixed section of items, or nothing when there
// are none.
func vector[T any](w *binary.Writer, id byte, items []T, each func(*binary.Writer, T)) {
	if len(items) == 0 {
		return
	}
	sec := binary.NewWriter()
	sec.WriteU32(uint32(len(items)))
	for _, it := range items {
		each(sec, it)
	}
	w.Section(id, sec)
}

func writeImport(s *binary.Writer, imp Import) {
	s.WriteName(imp.Module)
	s.WriteName(imp.Name)
	s.Byte(imp.Desc.Kind)
	switch d := imp.Desc; d.Kind {
	case KindFunc:
		s.WriteU32(d.TypeIdx)
	case KindMemory:
		if d.Memory != nil {
			writeLimits(s, d.Memory.Limits)
		}
	case KindGlobal:
		if d.Global != nil {
			writeGlobalType(s, *d.Global)
		}
	}
}

// writeBody writes one size-prefixed function body.
func writeBody(s *binary.Writer, body FuncBody) {
	b := binary.NewWriter()
	b.WriteU32(uint32(len(body.Locals)))
	for _, l := range body.Locals {
		b.WriteU32(l.Count)
		b.Byte(byte(l.ValType))
	}
	b.WriteBytes(body.Code)
	s.WriteU32(uint32(b.Len()))
	s.WriteBytes(b.Bytes())
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max == nil {
		w.Byte(LimitsNoMax)
		w.WriteU32(l.Min)
		return
	}
	w.Byte(LimitsHasMax)
	w.WriteU32(l.Min)
	w.WriteU32(*l.Max)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	var mut byte
	if g.Mutable {
		mut = 1
	}
	w.Byte(byte(g.ValType))
	w.Byte(mut)
}
