// Package wasm provides WebAssembly binary format encoding, decoding and
// validation for the core-module subset brainwasm emits.
//
// The model covers the MVP sections a single-function WASI program needs:
// types, imports, functions, one memory, globals, exports, start, code,
// data and custom sections. Table and element sections are rejected.
//
// # Encoding
//
//	m := &wasm.Module{}
//	void := m.AddType(wasm.FuncType{})
//	m.Funcs = append(m.Funcs, void)
//	data := m.Encode()
//
// # Instructions
//
// Function bodies are raw bytes. DecodeInstructions and EncodeInstructions
// convert between bytes and []Instruction for rewriting passes:
//
//	instrs, err := wasm.DecodeInstructions(body.Code)
//	body.Code = wasm.EncodeInstructions(instrs)
//
// # Validation
//
// Validate checks index spaces, exports, start signature and memory limits.
// ValidateCode type-checks every body with an operand and control stack.
// ValidateBinary does both, starting from bytes:
//
//	if err := wasm.ValidateBinary(data); err != nil {
//	    return err
//	}
package wasm
