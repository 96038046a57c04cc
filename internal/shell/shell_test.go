// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
)

func TestCommand_Line(t *testing.T) {
	t.Parallel()

	cmd := Command{Args: []string{"pip", "install", "bar", "it's here"}}
	line, err := cmd.Line()
	if err != nil {
		t.Fatalf("Line() error = %v", err)
	}
	if !strings.HasPrefix(line, "pip install bar ") || strings.HasSuffix(line, " it's here") {
		t.Errorf("Line() = %s, want the last argument quoted", line)
	}

	if _, err := (Command{}).Line(); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestExitError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ExitError
		want string
	}{
		{"stderr tail", &ExitError{Args: []string{"pip", "install", "bar"}, Code: 1, Stderr: "Collecting bar\nERROR: no match\n"}, "pip exited with status 1: ERROR: no match"},
		{"quiet", &ExitError{Args: []string{"false"}, Code: 1}, "false exited with status 1"},
		{"no arguments", &ExitError{Code: 127, Stderr: "not found"}, "command exited with status 127: not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecorder_EmptyCommandFailure(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(func(Command) (Result, error) { return Result{ExitCode: 2}, nil })
	_, err := rec.Run(context.Background(), Command{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Error() != "command exited with status 2" {
		t.Errorf("Run(empty) error = %v", err)
	}
}

func TestInterpRunner_Run(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("requires POSIX utilities")
	}

	r := NewInterpRunner(WithEnv(map[string]string{"GREETING": "hello"}))
	res, err := r.Run(context.Background(), Command{
		Args: []string{"sh", "-c", `printf '%s' "$GREETING"; printf oops >&2`},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "hello" || res.Stderr != "oops" {
		t.Errorf("Run() = %+v", res)
	}

	_, err = r.Run(context.Background(), Command{Args: []string{"sh", "-c", "echo broken >&2; exit 3"}})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.Code != 3 || !strings.Contains(exitErr.Error(), "broken") {
		t.Errorf("ExitError = %v (code %d)", exitErr, exitErr.Code)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	r := NewRecorder(func(cmd Command) (Result, error) {
		if Matches(cmd.Args, "apt-get", "install") {
			return Result{ExitCode: 100, Stderr: "E: Unable to locate package"}, nil
		}
		return Result{Stdout: "ok"}, nil
	})

	if _, err := r.Run(context.Background(), Command{Args: []string{"apt-get", "update"}}); err != nil {
		t.Fatalf("update error = %v", err)
	}
	_, err := r.Run(context.Background(), Command{Args: []string{"apt-get", "install", "-y", "libfoo-dev"}})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 100 {
		t.Fatalf("expected exit 100, got %v", err)
	}

	lines := r.Lines()
	if len(lines) != 2 || lines[1] != "apt-get install -y libfoo-dev" {
		t.Errorf("Lines() = %q", lines)
	}
}
