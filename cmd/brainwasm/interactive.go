package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/brainwasm"
	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/pipeline"
)

const (
	replTimeout = 5 * time.Second
	tapeCells   = 16
)

type replFocus int

const (
	focusProgram replFocus = iota
	focusInput
)

type replModel struct {
	ctx      context.Context
	pipe     *pipeline.Pipeline
	style    styles
	program  textarea.Model
	input    textinput.Model
	result   *runResultMsg
	strategy engine.Strategy
	focus    replFocus
	running  bool
}

// runResultMsg is one finished run of the edited program.
type runResultMsg struct {
	err      error
	output   []byte
	cells    []uint32
	elapsed  time.Duration
	strategy engine.Strategy
}

func newReplModel(ctx context.Context, pipe *pipeline.Pipeline, st styles, initial string, s engine.Strategy) *replModel {
	program := textarea.New()
	program.Placeholder = "++++++++[>++++++++<-]>+."
	program.ShowLineNumbers = true
	program.SetWidth(72)
	program.SetHeight(8)
	program.SetValue(initial)
	program.Focus()

	input := textinput.New()
	input.Prompt = "stdin: "
	input.Placeholder = "bytes fed to ','"
	input.Width = 60

	return &replModel{
		ctx:      ctx,
		pipe:     pipe,
		style:    st,
		program:  program,
		input:    input,
		strategy: s,
	}
}

func (m *replModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab":
			m.toggleFocus()
			return m, nil

		case "ctrl+s":
			m.strategy = nextStrategy(m.strategy)
			return m, nil

		case "ctrl+r":
			if m.running {
				return m, nil
			}
			m.running = true
			return m, m.execute()
		}

	case runResultMsg:
		m.running = false
		m.result = &msg
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == focusProgram {
		m.program, cmd = m.program.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *replModel) toggleFocus() {
	if m.focus == focusProgram {
		m.focus = focusInput
		m.program.Blur()
		m.input.Focus()
		return
	}
	m.focus = focusProgram
	m.input.Blur()
	m.program.Focus()
}

// nextStrategy cycles through the strategies this host can run.
func nextStrategy(s engine.Strategy) engine.Strategy {
	all := engine.Strategies()
	for i := 1; i <= len(all); i++ {
		next := all[(int(s)+i)%len(all)]
		if next.Available() {
			return next
		}
	}
	return s
}

func (m *replModel) execute() tea.Cmd {
	ctx, pipe := m.ctx, m.pipe
	src, stdin, s := m.program.Value(), m.input.Value(), m.strategy
	return func() tea.Msg {
		return runSnippet(ctx, pipe, src, stdin, s)
	}
}

func runSnippet(ctx context.Context, pipe *pipeline.Pipeline, src, stdin string, s engine.Strategy) runResultMsg {
	ctx, cancel := context.WithTimeout(ctx, replTimeout)
	defer cancel()

	res := runResultMsg{strategy: s}
	var out bytes.Buffer
	start := time.Now()
	res.err = pipe.Run(ctx, pipeline.Request{Name: "repl", Source: []byte(src), Strategy: s}, engine.IO{
		Stdin:  strings.NewReader(stdin),
		Stdout: &out,
		AfterRun: func(mem engine.Memory) {
			res.cells = brainwasm.ReadTape(mem, tapeCells)
		},
	})
	res.elapsed = time.Since(start)
	res.output = out.Bytes()
	return res
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(m.style.title.Render("brainwasm"))
	b.WriteString(" strategy ")
	b.WriteString(m.style.cell.Render(m.strategy.String()))
	b.WriteString("\n\n")
	b.WriteString(m.program.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch {
	case m.running:
		b.WriteString("running...\n")
	case m.result != nil:
		b.WriteString(m.renderResult(*m.result))
	}

	b.WriteString("\n")
	b.WriteString(m.style.help.Render("ctrl+r run • tab switch field • ctrl+s strategy • esc quit"))
	return b.String()
}

func (m *replModel) renderResult(r runResultMsg) string {
	var b strings.Builder
	if r.err != nil {
		b.WriteString(m.style.err.Render(r.err.Error()))
		b.WriteString("\n")
		return b.String()
	}

	fmt.Fprintf(&b, "output %s in %s (%s)\n",
		m.style.ok.Render(strconv.Quote(string(r.output))),
		r.elapsed.Round(time.Microsecond),
		r.strategy)
	b.WriteString("tape  ")
	for i, c := range r.cells {
		if i > 0 {
			b.WriteByte(' ')
		}
		text := fmt.Sprintf("%08x", c)
		if c == 0 {
			b.WriteString(m.style.zero.Render(text))
		} else {
			b.WriteString(m.style.cell.Render(text))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func runInteractive(ctx context.Context, a *app, initial string, s engine.Strategy) error {
	m := newReplModel(ctx, a.pipe, newStyles(a.stdout), initial, s)
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(a.stdin),
		tea.WithOutput(a.stdout),
	)
	_, err := p.Run()
	return err
}
