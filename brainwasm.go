package brainwasm

import (
	"context"
	"io"

	"github.com/wippyai/brainwasm/codegen"
	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/optimize"
	"github.com/wippyai/brainwasm/pipeline"
)

// Memory is read access to guest linear memory after a run.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
}

// MemorySizer provides the current size of guest linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

var (
	_ Memory      = engine.Memory{}
	_ MemorySizer = engine.Memory{}
)

// ReadTape returns the first n tape cells of m. It stops early at the end
// of the tape or of memory.
func ReadTape(m Memory, n int) []uint32 {
	layout := codegen.MemoryLayout()
	n = min(n, layout.Cells())
	cells := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		v, err := m.ReadU32(layout.CellAddr(i))
		if err != nil {
			break
		}
		cells = append(cells, v)
	}
	return cells
}

// Run builds src with the in-process optimizer and interprets it with
// stdin and stdout bound. Use the pipeline package for anything else.
func Run(ctx context.Context, src []byte, stdin io.Reader, stdout io.Writer) error {
	p := pipeline.New(pipeline.WithOptimizer(optimize.Peephole{}))
	return p.Run(ctx, pipeline.Request{Source: src, Strategy: engine.StrategyFast}, engine.IO{
		Stdin:  stdin,
		Stdout: stdout,
	})
}
