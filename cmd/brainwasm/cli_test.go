package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/optimize"
	"github.com/wippyai/brainwasm/pipeline"
	"github.com/wippyai/brainwasm/wasm"
)

const hello = `++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.`

type result struct {
	err    error
	stdout string
	stderr string
}

func invoke(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{err: err, stdout: stdout.String(), stderr: stderr.String()}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUsageErrors(t *testing.T) {
	prog := writeFile(t, "p.bf", "+.")
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"unknown global flag", []string{"-nope", "run", prog}},
		{"bad log level", []string{"-log-level=loud", "run", prog}},
		{"bad log format", []string{"-log-format=yaml", "run", prog}},
		{"bad optimizer", []string{"-optimizer=magic", "run", prog}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "absent.hcl"), "run", prog}},
		{"missing input", []string{"run"}},
		{"two inputs", []string{"run", prog, prog}},
		{"bad strategy", []string{"run", "-strategy", "warp", prog}},
		{"bad target", []string{"generate", "-target", "native", prog}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, "", tt.args...)
			require.Error(t, res.err)
			assert.Equal(t, 2, exitCode(res.err), res.err.Error())
		})
	}
}

func TestHelp(t *testing.T) {
	res := invoke(t, "", "-h")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Usage:")
	for _, c := range commands {
		assert.Contains(t, res.stderr, c.name)
	}
}

func TestRunProgram(t *testing.T) {
	prog := writeFile(t, "hello.bf", hello)
	res := invoke(t, "", "-optimizer", "peephole", "run", "-strategy", "fast", prog)
	require.NoError(t, res.err)
	assert.Equal(t, "Hello World!\n", res.stdout)
}

func TestRunReadsInput(t *testing.T) {
	prog := writeFile(t, "cat.bf", ",[.,]")
	res := invoke(t, "xyz\x00", "-optimizer", "none", "run", "-strategy", "fast", prog)
	require.NoError(t, res.err)
	assert.Equal(t, "xyz", res.stdout)

	input := writeFile(t, "in.txt", "from file\x00")
	res = invoke(t, "ignored", "-optimizer", "none", "run", "-strategy", "fast", "-stdin", input, prog)
	require.NoError(t, res.err)
	assert.Equal(t, "from file", res.stdout)
}

func TestRunQuiet(t *testing.T) {
	prog := writeFile(t, "hello.bf", hello)
	res := invoke(t, "", "-optimizer", "peephole", "run", "-strategy", "fast", "-quiet", prog)
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)
	assert.Contains(t, res.stderr, "finished in")
}

func TestRunTimeout(t *testing.T) {
	prog := writeFile(t, "spin.bf", "+[]")
	res := invoke(t, "", "-optimizer", "none", "run", "-strategy", "fast", "-timeout", "100ms", prog)
	require.Error(t, res.err)
	assert.Equal(t, 1, exitCode(res.err))
	assert.Contains(t, res.err.Error(), "[execute] trap")
}

func TestStageFailuresExitOne(t *testing.T) {
	malformed := writeFile(t, "bad.bf", "+\n[")
	res := invoke(t, "", "-optimizer", "none", "run", "-strategy", "fast", malformed)
	require.Error(t, res.err)
	assert.Equal(t, 1, exitCode(res.err))
	assert.Contains(t, res.err.Error(), "[parse] malformed_program at "+malformed+":2:1")

	res = invoke(t, "", "-optimizer", "none", "run", filepath.Join(t.TempDir(), "absent.bf"))
	require.Error(t, res.err)
	assert.Equal(t, 1, exitCode(res.err))
	assert.Contains(t, res.err.Error(), "[read] io")
}

func TestGenerate(t *testing.T) {
	prog := writeFile(t, "hello.bf", hello)
	out := filepath.Join(t.TempDir(), "hello.wasm")

	res := invoke(t, "", "-optimizer", "peephole", "generate", "-o", out, prog)
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "wrote "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateBinary(data))

	res = invoke(t, "", "-optimizer", "peephole", "generate", "-o", "-", prog)
	require.NoError(t, res.err)
	assert.Equal(t, string(data), res.stdout)
}

func TestGenerateDefaultPath(t *testing.T) {
	prog := writeFile(t, "plus.bf", "+.")
	res := invoke(t, "", "-optimizer", "none", "generate", prog)
	require.NoError(t, res.err)
	_, err := os.Stat(strings.TrimSuffix(prog, ".bf") + ".wasm")
	require.NoError(t, err)
}

func TestGenerateTarget(t *testing.T) {
	prog := writeFile(t, "three.bf", "+++.")
	out := filepath.Join(t.TempDir(), "out.wasm")

	res := invoke(t, "", "-optimizer", "none", "generate", "-target", "browser", "-o", out, prog)
	require.Error(t, res.err)
	assert.Equal(t, 1, exitCode(res.err))
	assert.Contains(t, res.err.Error(), "[generate] unsupported_target")
	assert.NoFileExists(t, out)

	res = invoke(t, "", "-optimizer", "none", "generate", "-target", "wasi", "-o", out, prog)
	require.NoError(t, res.err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, wasm.ValidateBinary(data))
}

func TestCompileAndExec(t *testing.T) {
	prog := writeFile(t, "three.bf", "+++.")
	obj := strings.TrimSuffix(prog, ".bf") + ".bwco"

	res := invoke(t, "", "-optimizer", "peephole", "compile", "-strategy", "fast", prog)
	require.NoError(t, res.err)

	res = invoke(t, "", "exec", "-strategy", "fast", obj)
	require.NoError(t, res.err)
	assert.Equal(t, "\x03", res.stdout)

	res = invoke(t, "", "exec", "-strategy", "balanced", obj)
	require.Error(t, res.err)
	assert.Equal(t, 1, exitCode(res.err))
	assert.Contains(t, res.err.Error(), "[load] backend_mismatch")
}

func TestStandaloneWritesNothing(t *testing.T) {
	prog := writeFile(t, "three.bf", "+++.")
	out := filepath.Join(t.TempDir(), "three")

	res := invoke(t, "", "-optimizer", "none", "standalone", "-strategy", "fast", "-o", out, prog)
	require.Error(t, res.err)
	assert.Equal(t, 1, exitCode(res.err))
	assert.Contains(t, res.err.Error(), "[standalone] unsupported")
	assert.NoFileExists(t, out)
}

func TestConfigFile(t *testing.T) {
	cfg := writeFile(t, "brainwasm.hcl", `
optimizer {
  kind = "none"
}

engine {
  strategy = "fast"
}

log {
  level  = "debug"
  format = "json"
}
`)
	prog := writeFile(t, "three.bf", "+++.")
	res := invoke(t, "", "-config", cfg, "run", prog)
	require.NoError(t, res.err)
	assert.Equal(t, "\x03", res.stdout)
	assert.Contains(t, res.stderr, `"msg":"stage done"`)
	assert.Contains(t, res.stderr, `"optimizer":"none"`)

	// flags override the file
	res = invoke(t, "", "-config", cfg, "-log-level", "error", "run", prog)
	require.NoError(t, res.err)
	assert.NotContains(t, res.stderr, "stage done")
}

func TestReplNeedsTerminal(t *testing.T) {
	res := invoke(t, "", "-optimizer", "none", "repl")
	require.Error(t, res.err)
	assert.Equal(t, 2, exitCode(res.err))
}

func replPipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.WithOptimizer(optimize.Peephole{}))
}

func TestRunSnippetDumpsTape(t *testing.T) {
	res := runSnippet(context.Background(), replPipeline(), "+++>+>-<<.", "", engine.StrategyFast)
	require.NoError(t, res.err)
	assert.Equal(t, []byte{0x03}, res.output)
	require.Len(t, res.cells, tapeCells)
	assert.Equal(t, []uint32{3, 1, 0xFFFFFFFF, 0}, res.cells[:4])

	res = runSnippet(context.Background(), replPipeline(), "[", "", engine.StrategyFast)
	require.Error(t, res.err)
	assert.Nil(t, res.cells)
}

func TestReplModel(t *testing.T) {
	ctx := context.Background()
	m := newReplModel(ctx, replPipeline(), newStyles(&bytes.Buffer{}), ",.", engine.StrategyFast)
	m.input.SetValue("A")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	assert.True(t, m.running)
	assert.Contains(t, m.View(), "running")

	msg := cmd()
	_, _ = m.Update(msg)
	assert.False(t, m.running)
	view := m.View()
	assert.Contains(t, view, `"A"`)
	assert.Contains(t, view, "00000041")

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusInput, m.focus)
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusProgram, m.focus)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.True(t, m.strategy.Available())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestNextStrategyCycles(t *testing.T) {
	seen := map[engine.Strategy]bool{}
	s := engine.StrategyFast
	for i := 0; i < len(engine.Strategies()); i++ {
		s = nextStrategy(s)
		require.True(t, s.Available())
		seen[s] = true
	}
	assert.True(t, seen[engine.StrategyFast], "cycle returns to the interpreter")
}
