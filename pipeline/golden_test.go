package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/brainwasm/codegen"
	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/optimize"
	"github.com/wippyai/brainwasm/wasm"
)

const helloWorld = `++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.`

// realPipeline uses the in-process optimizer so tests do not depend on
// wasm-opt being installed.
func realPipeline(opt optimize.Optimizer) *Pipeline {
	return New(WithOptimizer(opt))
}

func runProgram(t *testing.T, p *Pipeline, src string, s engine.Strategy, stdin []byte) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var out bytes.Buffer
	err := p.Run(ctx, Request{Name: "golden.bf", Source: []byte(src), Strategy: s},
		engine.IO{Stdin: bytes.NewReader(stdin), Stdout: &out})
	return out.Bytes(), err
}

func availableStrategies() []engine.Strategy {
	var out []engine.Strategy
	for _, s := range engine.Strategies() {
		if s.Available() {
			out = append(out, s)
		}
	}
	return out
}

var goldenPrograms = []struct {
	name  string
	src   string
	stdin []byte
	want  []byte
}{
	{"add and print", "+++.", nil, []byte{0x03}},
	{"echo one byte", ",.", []byte{0x41}, []byte{0x41}},
	{"eof keeps cell", "+++,.", nil, []byte{0x03}},
	{"clear loop prints nothing", "+++++[-]", nil, nil},
	{"skipped loop", "[.]+.", nil, []byte{0x01}},
	{"wraps below zero", "-.", nil, []byte{0xFF}},
	{"low byte only", strings.Repeat("+", 0x141) + ".", nil, []byte{0x41}},
	{"comments ignored", "add three: +++ then print: .", nil, []byte{0x03}},
	{"move and copy", "++++[>++<-]>.", nil, []byte{0x08}},
	{"echo until zero", ",[.,]", []byte("abc\x00"), []byte("abc")},
	{"hello world", helloWorld, nil, []byte("Hello World!\n")},
	{"empty program", "", nil, nil},
}

func TestGoldenPrograms(t *testing.T) {
	optimizers := []optimize.Optimizer{optimize.None{}, optimize.Peephole{}}
	for _, opt := range optimizers {
		p := realPipeline(opt)
		for _, s := range availableStrategies() {
			for _, tt := range goldenPrograms {
				t.Run(opt.Name()+"/"+s.String()+"/"+tt.name, func(t *testing.T) {
					got, err := runProgram(t, p, tt.src, s, tt.stdin)
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
				})
			}
		}
	}
}

func TestClearLoopEndsAtZero(t *testing.T) {
	for _, opt := range []optimize.Optimizer{optimize.None{}, optimize.Peephole{}} {
		t.Run(opt.Name(), func(t *testing.T) {
			var cell uint32 = 99
			var out bytes.Buffer
			err := realPipeline(opt).Run(context.Background(),
				Request{Source: []byte("+++++[-]"), Strategy: engine.StrategyFast},
				engine.IO{Stdout: &out, AfterRun: func(m engine.Memory) {
					v, err := m.ReadU32(codegen.MemoryLayout().CellAddr(0))
					require.NoError(t, err)
					cell = v
				}})
			require.NoError(t, err)
			assert.Zero(t, cell)
			assert.Zero(t, out.Len())
		})
	}
}

func TestInputReplacesLowByte(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		stdin []byte
		want  uint32
	}{
		{"upper bytes kept", "-,", []byte("A"), 0xFFFFFF41},
		{"eof keeps cell", "+++,", nil, 3},
		{"eof keeps wrapped cell", "-,", nil, 0xFFFFFFFF},
	}
	for _, opt := range []optimize.Optimizer{optimize.None{}, optimize.Peephole{}} {
		for _, tt := range tests {
			t.Run(opt.Name()+"/"+tt.name, func(t *testing.T) {
				var cell uint32
				err := realPipeline(opt).Run(context.Background(),
					Request{Source: []byte(tt.src), Strategy: engine.StrategyFast},
					engine.IO{Stdin: bytes.NewReader(tt.stdin), AfterRun: func(m engine.Memory) {
						v, err := m.ReadU32(codegen.MemoryLayout().CellAddr(0))
						require.NoError(t, err)
						cell = v
					}})
				require.NoError(t, err)
				assert.Equal(t, tt.want, cell)
			})
		}
	}
}

func TestOutputAcrossBufferFlushes(t *testing.T) {
	src := "+" + strings.Repeat(".", 2500)
	got, err := runProgram(t, realPipeline(optimize.None{}), src, engine.StrategyFast, nil)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x01}, 2500), got)
}

func TestTapeUnderflowTraps(t *testing.T) {
	src := strings.Repeat("<", 257) + "+"
	for _, opt := range []optimize.Optimizer{optimize.None{}, optimize.Peephole{}} {
		t.Run(opt.Name(), func(t *testing.T) {
			_, err := runProgram(t, realPipeline(opt), src, engine.StrategyFast, nil)
			isKind(t, err, errors.PhaseExecute, errors.KindTrap)
		})
	}
}

func TestPeepholeEquivalence(t *testing.T) {
	programs := []string{
		helloWorld,
		"+++---+-+-.",
		">>><<<+.",
		"++++++++[>++++++++<-]>+.+.+.",
		"+[-]++[-]+++[-]+.",
		",[->+>+<<]>>[-<<+>>]<.<.",
		strings.Repeat("+-", 100) + ".",
	}
	none, peep := realPipeline(optimize.None{}), realPipeline(optimize.Peephole{})
	for _, src := range programs {
		stdin := []byte{7}
		want, err := runProgram(t, none, src, engine.StrategyFast, stdin)
		require.NoError(t, err, src)
		got, err := runProgram(t, peep, src, engine.StrategyFast, stdin)
		require.NoError(t, err, src)
		assert.Equal(t, want, got, src)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := realPipeline(optimize.Peephole{})

	var obj bytes.Buffer
	require.NoError(t, p.CompileObject(ctx, Request{Source: []byte("+++."), Strategy: engine.StrategyFast}, &obj))

	var out bytes.Buffer
	require.NoError(t, p.RunObject(ctx, bytes.NewReader(obj.Bytes()), engine.StrategyFast, engine.IO{Stdout: &out}))
	assert.Equal(t, []byte{0x03}, out.Bytes())

	err := p.RunObject(ctx, bytes.NewReader(obj.Bytes()), engine.StrategyBalanced, engine.Suppressed())
	isKind(t, err, errors.PhaseLoad, errors.KindBackendMismatch)

	err = p.RunObject(ctx, strings.NewReader("not an object"), engine.StrategyFast, engine.Suppressed())
	isKind(t, err, errors.PhaseLoad, errors.KindInvalidData)
}

func TestGenerateModuleValidates(t *testing.T) {
	for _, opt := range []optimize.Optimizer{optimize.None{}, optimize.Peephole{}} {
		var mod bytes.Buffer
		err := realPipeline(opt).GenerateModule(context.Background(),
			Request{Source: []byte(helloWorld), Strategy: engine.StrategyFast}, &mod)
		require.NoError(t, err)
		require.NoError(t, wasm.ValidateBinary(mod.Bytes()), opt.Name())
	}
}

func TestBrowserTargetFails(t *testing.T) {
	p := New(
		WithGenerator(codegen.Generator{Target: codegen.TargetBrowser}),
		WithOptimizer(optimize.None{}),
	)
	var mod bytes.Buffer
	err := p.GenerateModule(context.Background(), Request{Source: []byte("+.")}, &mod)
	isKind(t, err, errors.PhaseGenerate, errors.KindUnsupportedTarget)
	assert.Zero(t, mod.Len())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := realPipeline(optimize.None{}).Run(ctx,
		Request{Source: []byte("+[]"), Strategy: engine.StrategyFast}, engine.Suppressed())
	isKind(t, err, errors.PhaseExecute, errors.KindTrap)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func BenchmarkBuildHelloWorld(b *testing.B) {
	ctx := context.Background()
	p := realPipeline(optimize.Peephole{})
	req := Request{Source: []byte(helloWorld), Strategy: engine.StrategyFast}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bld, err := p.Build(ctx, req)
		if err != nil {
			b.Fatal(err)
		}
		if err := bld.Execute(ctx, engine.Suppressed()); err != nil {
			b.Fatal(err)
		}
		bld.Close(ctx)
	}
}
