package codegen

import "github.com/wippyai/brainwasm/wasm"

// Linear memory layout shared by generated code and the WASI host calls.
//
//	[0, 1000)      output buffer
//	[1000, 1024)   descriptor area: iovec {ptr, len} at 1008, nbytes at 1016
//	[1024, 3 pages) tape, 4-byte cells
//
// Tape pointer movement and buffer indexing are not bounds checked. A
// program that walks off either end of the tape traps in the sandbox.
const (
	BufferBase = 0
	BufferCap  = 1000

	DescriptorBase = 1000
	IovecBase      = 1008
	NBytesAddr     = 1016

	TapeBase    = 1024
	CellSize    = 4
	MemoryPages = 3

	MemorySize = MemoryPages * wasm.PageSize
	TapeCells  = (MemorySize - TapeBase) / CellSize
)

// Locals of the entry function.
const (
	localTape   = 0 // tape pointer (byte address of the current cell)
	localCursor = 1 // next free byte in the output buffer
	localCapEnd = 2 // BufferBase + BufferCap
	localIovec  = 3 // descriptor pointer
	numLocals   = 4
)

// Function index space: the two imports come first.
const (
	fdReadIndex  = 0
	fdWriteIndex = 1
	startIndex   = 2
)

const (
	stdinFD     = 0
	stdoutFD    = 1
	iovecLenOff = 4
	alignI32    = 2
	alignByte   = 0
)

// Layout describes the memory regions of a generated module.
type Layout struct {
	BufferBase uint32
	BufferCap  uint32
	IovecBase  uint32
	NBytesAddr uint32
	TapeBase   uint32
	CellSize   uint32
	Pages      uint32
}

// MemoryLayout returns the layout every generated module uses.
func MemoryLayout() Layout {
	return Layout{
		BufferBase: BufferBase,
		BufferCap:  BufferCap,
		IovecBase:  IovecBase,
		NBytesAddr: NBytesAddr,
		TapeBase:   TapeBase,
		CellSize:   CellSize,
		Pages:      MemoryPages,
	}
}

// CellAddr returns the byte address of tape cell i.
func (l Layout) CellAddr(i int) uint32 {
	return l.TapeBase + uint32(i)*l.CellSize
}

// Cells returns the number of tape cells that fit in memory.
func (l Layout) Cells() int {
	return int((l.Pages*wasm.PageSize - l.TapeBase) / l.CellSize)
}
