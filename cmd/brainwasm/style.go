package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/brainwasm/config"
)

// styles renders status lines. The renderer picks the color profile of the
// writer, so output to pipes and files stays plain.
type styles struct {
	ok    lipgloss.Style
	err   lipgloss.Style
	title lipgloss.Style
	cell  lipgloss.Style
	zero  lipgloss.Style
	help  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:  r.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		err: r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		cell: r.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		zero: r.NewStyle().Foreground(lipgloss.Color("#666666")),
		help: r.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newLogger builds the process logger writing to w.
func newLogger(cfg config.Log, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		ec := zap.NewDevelopmentEncoderConfig()
		if isTerminal(w) {
			ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core).Named("brainwasm"), nil
}
