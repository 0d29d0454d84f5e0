package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/brainwasm/config"
	"github.com/wippyai/brainwasm/engine"
	"github.com/wippyai/brainwasm/errors"
	"github.com/wippyai/brainwasm/pipeline"
)

// ExitError carries a process exit code. Code 2 is a usage error.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if stderrors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// app is the state shared by every command of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	cfg    config.Config
	logger *zap.Logger
	pipe   *pipeline.Pipeline
	style  styles
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"generate", "write the optimized module of a program", cmdGenerate},
	{"compile", "write a serialized compiled object", cmdCompile},
	{"standalone", "package a native executable (not implemented)", cmdStandalone},
	{"run", "compile and execute a program", cmdRun},
	{"exec", "execute a serialized compiled object", cmdExec},
	{"repl", "edit and run programs interactively", cmdRepl},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("brainwasm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, "Usage:\n  brainwasm [options] <command> [args]\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-11s %s\n", c.name, c.summary)
		}
		fmt.Fprint(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "Path to an HCL configuration file.")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn or error.")
	logFormat := fs.String("log-format", "", "Log format: console or json.")
	optimizer := fs.String("optimizer", "", "Optimizer: wasm-opt, peephole or none.")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return usageError("%v", err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return usageError("missing command")
	}
	cmd, ok := lookup(fs.Arg(0))
	if !ok {
		return usageError("unknown command %q", fs.Arg(0))
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return &ExitError{Code: 2, Message: err.Error()}
		}
	}
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Log.Format, *logFormat)
	override(&cfg.Optimizer.Kind, *optimizer)
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return usageError("%v", err)
	}
	defer logger.Sync()
	engine.SetLogger(logger)
	defer engine.SetLogger(nil)

	pipe, err := pipeline.FromConfig(cfg, logger)
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	a := &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		cfg:    cfg,
		logger: logger,
		pipe:   pipe,
		style:  newStyles(stderr),
	}
	logger.Debug("command start", zap.String("command", cmd.name), zap.String("optimizer", cfg.Optimizer.Kind))
	return cmd.run(ctx, a, fs.Args()[1:])
}

func override(dst *string, v string) {
	if v != "" {
		*dst = strings.ToLower(v)
	}
}

// report prints err to w. Stage failures are prefixed with their phase by
// the error itself.
func report(w io.Writer, err error) {
	var exit *ExitError
	if stderrors.As(err, &exit) {
		if exit.Message != "" {
			fmt.Fprintln(w, newStyles(w).err.Render("brainwasm: "+exit.Message))
		}
		return
	}
	fmt.Fprintln(w, newStyles(w).err.Render("brainwasm: "+err.Error()))
}

// subcommand holds the flags shared by the build commands.
type subcommand struct {
	fs       *flag.FlagSet
	strategy *string
	output   *string
}

func newSubcommand(a *app, name, usage string, withOutput bool) *subcommand {
	s := &subcommand{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	s.fs.SetOutput(a.stderr)
	s.fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage:\n  brainwasm %s [options] %s\n\nOptions:\n", name, usage)
		s.fs.PrintDefaults()
	}
	s.strategy = s.fs.String("strategy", a.cfg.Engine.Strategy, "Backend strategy: fast, balanced or optimized.")
	if withOutput {
		s.output = s.fs.String("o", "", "Output path; - writes to stdout.")
	}
	return s
}

// parse parses args and returns the single positional argument.
func (s *subcommand) parse(args []string) (string, engine.Strategy, error) {
	if err := s.fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return "", 0, &ExitError{Code: 0}
		}
		return "", 0, usageError("%v", err)
	}
	if s.fs.NArg() != 1 {
		s.fs.Usage()
		return "", 0, usageError("%s: expected exactly one input file", s.fs.Name())
	}
	strategy, err := engine.ParseStrategy(*s.strategy)
	if err != nil {
		return "", 0, usageError("%v", err)
	}
	return s.fs.Arg(0), strategy, nil
}

func readSource(path string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseRead, path, err)
	}
	return src, nil
}

func outputPath(input, flagValue, ext string) string {
	if flagValue != "" {
		return flagValue
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ext
}

// emit runs produce into memory and writes the result only on success, so a
// failing stage never leaves a partial artifact behind.
func (a *app) emit(path string, produce func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := produce(&buf); err != nil {
		return err
	}
	if path == "-" {
		if _, err := a.stdout.Write(buf.Bytes()); err != nil {
			return errors.IO(errors.PhaseWrite, "stdout", err)
		}
		return nil
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.IO(errors.PhaseWrite, path, err)
	}
	fmt.Fprintln(a.stderr, a.style.ok.Render(fmt.Sprintf("wrote %s (%d bytes)", path, buf.Len())))
	return nil
}

func cmdGenerate(ctx context.Context, a *app, args []string) error {
	s := newSubcommand(a, "generate", "<program.bf>", true)
	target := s.fs.String("target", a.cfg.Target, "Target environment: wasi or browser.")
	input, strategy, err := s.parse(args)
	if err != nil {
		return err
	}
	pipe, err := a.pipelineFor(*target)
	if err != nil {
		return err
	}
	src, err := readSource(input)
	if err != nil {
		return err
	}
	req := pipeline.Request{Name: input, Source: src, Strategy: strategy}
	return a.emit(outputPath(input, *s.output, ".wasm"), func(w io.Writer) error {
		return pipe.GenerateModule(ctx, req, w)
	})
}

// pipelineFor returns the configured pipeline, rebuilt when target differs
// from the configured one.
func (a *app) pipelineFor(target string) (*pipeline.Pipeline, error) {
	target = strings.ToLower(target)
	if target == a.cfg.Target {
		return a.pipe, nil
	}
	cfg := a.cfg
	cfg.Target = target
	if err := cfg.Validate(); err != nil {
		return nil, usageError("%v", err)
	}
	pipe, err := pipeline.FromConfig(cfg, a.logger)
	if err != nil {
		return nil, usageError("%v", err)
	}
	a.logger.Debug("target override", zap.String("target", target))
	return pipe, nil
}

func cmdCompile(ctx context.Context, a *app, args []string) error {
	s := newSubcommand(a, "compile", "<program.bf>", true)
	input, strategy, err := s.parse(args)
	if err != nil {
		return err
	}
	src, err := readSource(input)
	if err != nil {
		return err
	}
	req := pipeline.Request{Name: input, Source: src, Strategy: strategy}
	return a.emit(outputPath(input, *s.output, ".bwco"), func(w io.Writer) error {
		return a.pipe.CompileObject(ctx, req, w)
	})
}

func cmdStandalone(ctx context.Context, a *app, args []string) error {
	s := newSubcommand(a, "standalone", "<program.bf>", true)
	input, strategy, err := s.parse(args)
	if err != nil {
		return err
	}
	src, err := readSource(input)
	if err != nil {
		return err
	}
	req := pipeline.Request{Name: input, Source: src, Strategy: strategy}
	return a.emit(outputPath(input, *s.output, ""), func(w io.Writer) error {
		return a.pipe.CompileStandalone(ctx, req, w)
	})
}

// runFlags adds the execution flags shared by run and exec.
type runFlags struct {
	quiet   *bool
	timeout *time.Duration
	input   *string
}

func addRunFlags(fs *flag.FlagSet) runFlags {
	return runFlags{
		quiet:   fs.Bool("quiet", false, "Discard program output and report the elapsed time."),
		timeout: fs.Duration("timeout", 0, "Abort execution after this long; 0 means no limit."),
		input:   fs.String("stdin", "", "Read program input from this file instead of stdin."),
	}
}

func (f runFlags) streams(a *app) (engine.IO, func(), error) {
	if *f.quiet {
		return engine.Suppressed(), func() {}, nil
	}
	streams := engine.IO{Stdin: a.stdin, Stdout: a.stdout}
	if *f.input == "" {
		return streams, func() {}, nil
	}
	file, err := os.Open(*f.input)
	if err != nil {
		return engine.IO{}, nil, errors.IO(errors.PhaseRead, *f.input, err)
	}
	streams.Stdin = file
	return streams, func() { file.Close() }, nil
}

func (f runFlags) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if *f.timeout > 0 {
		return context.WithTimeout(ctx, *f.timeout)
	}
	return context.WithCancel(ctx)
}

func (a *app) execute(ctx context.Context, f runFlags, label string, fn func(context.Context, engine.IO) error) error {
	streams, done, err := f.streams(a)
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := f.context(ctx)
	defer cancel()

	start := time.Now()
	if err := fn(ctx, streams); err != nil {
		return err
	}
	if *f.quiet {
		fmt.Fprintln(a.stderr, a.style.ok.Render(fmt.Sprintf("%s finished in %s", label, time.Since(start).Round(time.Microsecond))))
	}
	return nil
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	s := newSubcommand(a, "run", "<program.bf>", false)
	rf := addRunFlags(s.fs)
	input, strategy, err := s.parse(args)
	if err != nil {
		return err
	}
	src, err := readSource(input)
	if err != nil {
		return err
	}
	req := pipeline.Request{Name: input, Source: src, Strategy: strategy}
	return a.execute(ctx, rf, input, func(ctx context.Context, streams engine.IO) error {
		return a.pipe.Run(ctx, req, streams)
	})
}

func cmdExec(ctx context.Context, a *app, args []string) error {
	s := newSubcommand(a, "exec", "<object.bwco>", false)
	rf := addRunFlags(s.fs)
	input, strategy, err := s.parse(args)
	if err != nil {
		return err
	}
	obj, err := readSource(input)
	if err != nil {
		return err
	}
	return a.execute(ctx, rf, input, func(ctx context.Context, streams engine.IO) error {
		return a.pipe.RunObject(ctx, bytes.NewReader(obj), strategy, streams)
	})
}

func cmdRepl(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	strategyName := fs.String("strategy", engine.StrategyFast.String(), "Initial backend strategy.")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return usageError("%v", err)
	}
	strategy, err := engine.ParseStrategy(*strategyName)
	if err != nil {
		return usageError("%v", err)
	}

	var initial []byte
	if fs.NArg() > 0 {
		if initial, err = readSource(fs.Arg(0)); err != nil {
			return err
		}
	}
	if !isTerminal(a.stdin) || !isTerminal(a.stdout) {
		return usageError("repl needs an interactive terminal")
	}
	return runInteractive(ctx, a, string(initial), strategy)
}
