// SPDX-License-Identifier: MPL-2.0

// Package shell runs package-manager commands for provisioning steps.
//
// Commands are built as argument vectors and executed through the mvdan.cc/sh
// interpreter, so quoting is never left to string concatenation. A Recorder
// stands in for real execution in plans, dry runs and tests.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ErrEmptyCommand is returned when a Command has no arguments.
var ErrEmptyCommand = errors.New("empty command")

type (
	// Command is a single program invocation.
	Command struct {
		Args []string
		// Dir is the working directory. Empty means "/". Ignored when the
		// runner chroots into a target root.
		Dir string
		// Env holds extra variables layered over the runner defaults.
		Env map[string]string
	}

	// Result captures a finished command's output.
	Result struct {
		Stdout   string
		Stderr   string
		ExitCode int
	}

	// Runner executes commands against a target root.
	Runner interface {
		Run(ctx context.Context, cmd Command) (Result, error)
	}

	// ExitError reports a command that ran and exited non-zero.
	ExitError struct {
		Args   []string
		Code   int
		Stderr string
	}

	// InterpRunner executes commands with the mvdan.cc/sh interpreter.
	InterpRunner struct {
		root   string
		env    map[string]string
		logger *slog.Logger
	}

	// InterpOption configures an InterpRunner.
	InterpOption func(*InterpRunner)
)

var _ Runner = (*InterpRunner)(nil)

func (e *ExitError) Error() string {
	name := "command"
	if len(e.Args) > 0 {
		name = e.Args[0]
	}
	msg := fmt.Sprintf("%s exited with status %d", name, e.Code)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Line renders the command as a shell-quoted line.
func (c Command) Line() (string, error) {
	if len(c.Args) == 0 {
		return "", ErrEmptyCommand
	}
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", a, err)
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " "), nil
}

// String renders the command for logs, falling back to plain joining.
func (c Command) String() string {
	line, err := c.Line()
	if err != nil {
		return strings.Join(c.Args, " ")
	}
	return line
}

// WithRoot makes commands run chrooted into root. "/" or empty runs them
// directly on the host.
func WithRoot(root string) InterpOption {
	return func(r *InterpRunner) { r.root = root }
}

// WithEnv adds default environment variables to every command.
func WithEnv(env map[string]string) InterpOption {
	return func(r *InterpRunner) { maps.Copy(r.env, env) }
}

// WithLogger sets the logger used to trace executed programs.
func WithLogger(l *slog.Logger) InterpOption {
	return func(r *InterpRunner) { r.logger = l }
}

// NewInterpRunner creates a runner with a non-interactive base environment.
func NewInterpRunner(opts ...InterpOption) *InterpRunner {
	r := &InterpRunner{
		env: map[string]string{
			"PATH":            "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"DEBIAN_FRONTEND": "noninteractive",
			"LC_ALL":          "C",
			"PIP_NO_INPUT":    "1",
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd and returns its captured output. A non-zero exit yields
// an *ExitError alongside the Result.
func (r *InterpRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	args := cmd.Args
	if r.root != "" && r.root != "/" {
		args = append([]string{"chroot", r.root}, args...)
	}
	line, err := Command{Args: args}.Line()
	if err != nil {
		return Result{}, err
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(line), "command")
	if err != nil {
		return Result{}, fmt.Errorf("parse command: %w", err)
	}

	env := maps.Clone(r.env)
	maps.Copy(env, cmd.Env)

	dir := cmd.Dir
	if dir == "" {
		dir = "/"
	}
	if r.root != "" && r.root != "/" {
		// chroot always starts the program at its new "/".
		dir = r.root
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(envSlice(env)...)),
		interp.StdIO(nil, &stdout, &stderr),
		interp.ExecHandlers(r.traceHandler),
	)
	if err != nil {
		return Result{}, fmt.Errorf("create interpreter: %w", err)
	}

	runErr := runner.Run(ctx, file)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitStatus interp.ExitStatus
		if errors.As(runErr, &exitStatus) {
			res.ExitCode = int(exitStatus)
			return res, &ExitError{Args: cmd.Args, Code: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("run %s: %w", cmd.Args[0], runErr)
	}
	return res, nil
}

func (r *InterpRunner) traceHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		r.logger.Debug("exec", "args", args)
		return next(ctx, args)
	}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
