// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"context"
	"strings"
	"sync"
)

type (
	// Responder scripts the outcome of a recorded command.
	Responder func(cmd Command) (Result, error)

	// Recorder is a Runner that records every command instead of executing
	// it. Without a Responder every command succeeds with empty output.
	Recorder struct {
		mu       sync.Mutex
		commands []Command
		respond  Responder
	}
)

var _ Runner = (*Recorder)(nil)

// NewRecorder returns a Recorder answering through respond, which may be nil.
func NewRecorder(respond Responder) *Recorder {
	return &Recorder{respond: respond}
}

// Run records cmd and returns the scripted result.
func (r *Recorder) Run(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	respond := r.respond
	r.mu.Unlock()

	if respond == nil {
		return Result{}, nil
	}
	res, err := respond(cmd)
	if err == nil && res.ExitCode != 0 {
		err = &ExitError{Args: cmd.Args, Code: res.ExitCode, Stderr: res.Stderr}
	}
	return res, err
}

// Commands returns a copy of the recorded commands in execution order.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Lines returns the recorded commands rendered with Command.String.
func (r *Recorder) Lines() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

// Matches reports whether args starts with every element of prefix.
func Matches(args []string, prefix ...string) bool {
	if len(args) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if args[i] != p {
			return false
		}
	}
	return true
}

// Contains reports whether any argument contains substr.
func Contains(args []string, substr string) bool {
	for _, a := range args {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}
