package wasm

import "fmt"

// structuralChecks run in order; the first failure is reported.
var structuralChecks = []func(*Module) error{
	(*Module).checkTypeRefs,
	(*Module).checkExports,
	(*Module).checkStart,
	(*Module).checkCodeCount,
	(*Module).checkMemories,
}

// Validate checks the module for structural validity: index references,
// export names, the start signature and memory limits. Function bodies are
// checked separately by ValidateCode.
func (m *Module) Validate() error {
	for _, check := range structuralChecks {
		if err := check(m); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate decodes data and runs the structural checks.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidateBinary decodes data and runs both the structural and the
// function body checks. It is the acceptance test for generated and
// optimized modules.
func ValidateBinary(data []byte) error {
	m, err := ParseModuleValidate(data)
	if err != nil {
		return err
	}
	return m.ValidateCode()
}

// indexSpace is the size of each index space, imports included.
type indexSpace struct {
	funcs, memories, globals uint32
}

func (m *Module) indexSpace() indexSpace {
	return indexSpace{
		funcs:    uint32(m.NumImportedFuncs() + len(m.Funcs)),
		memories: uint32(m.NumImportedMemories() + len(m.Memories)),
		globals:  uint32(m.NumImportedGlobals() + len(m.Globals)),
	}
}

func (s indexSpace) limit(kind byte) (uint32, bool) {
	switch kind {
	case KindFunc:
		return s.funcs, true
	case KindMemory:
		return s.memories, true
	case KindGlobal:
		return s.globals, true
	}
	return 0, false
}

func (m *Module) checkTypeRefs() error {
	n := uint32(len(m.Types))
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= n {
			return fmt.Errorf("import %d (%s.%s): invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	for i, idx := range m.Funcs {
		if idx >= n {
			return fmt.Errorf("function %d: invalid type index %d of %d types", i, idx, n)
		}
	}
	return nil
}

func (m *Module) checkExports() error {
	space := m.indexSpace()
	names := make(map[string]struct{}, len(m.Exports))
	for i, exp := range m.Exports {
		if _, dup := names[exp.Name]; dup {
			return fmt.Errorf("duplicate export %q at %d", exp.Name, i)
		}
		names[exp.Name] = struct{}{}

		limit, ok := space.limit(exp.Kind)
		if !ok {
			return fmt.Errorf("export %q: unsupported kind %d", exp.Name, exp.Kind)
		}
		if exp.Idx >= limit {
			return fmt.Errorf("export %q: invalid index %d", exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) checkStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.GetFuncType(*m.Start)
	switch {
	case ft == nil:
		return fmt.Errorf("start function %d does not exist", *m.Start)
	case len(ft.Params)+len(ft.Results) > 0:
		return fmt.Errorf("start function %d has type %d->%d, want 0->0", *m.Start, len(ft.Params), len(ft.Results))
	}
	return nil
}

func (m *Module) checkCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d bodies for %d functions", len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) checkMemories() error {
	total := m.indexSpace().memories
	if total > 1 {
		return fmt.Errorf("%d memories declared, at most one is allowed", total)
	}
	if total == 0 && len(m.Data) > 0 {
		return fmt.Errorf("data segments without a memory")
	}

	var limits []Limits
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			limits = append(limits, imp.Desc.Memory.Limits)
		}
	}
	for _, mem := range m.Memories {
		limits = append(limits, mem.Limits)
	}
	for i, l := range limits {
		if err := l.check(); err != nil {
			return fmt.Errorf("memory %d: %w", i, err)
		}
	}
	return nil
}

func (l Limits) check() error {
	if l.Min > MemoryMaxPages {
		return fmt.Errorf("min %d exceeds maximum %d pages", l.Min, MemoryMaxPages)
	}
	if l.Max == nil {
		return nil
	}
	if *l.Max > MemoryMaxPages {
		return fmt.Errorf("max %d exceeds maximum %d pages", *l.Max, MemoryMaxPages)
	}
	if *l.Max < l.Min {
		return fmt.Errorf("max %d below min %d", *l.Max, l.Min)
	}
	return nil
}
