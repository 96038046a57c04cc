// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNew_LogfmtForNonTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "info"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("step completed", "step", "stage:client")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "step=stage:client") {
		t.Errorf("expected logfmt attrs, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record leaked at info level: %q", out)
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "debug", Format: FormatJSON})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("retrying", "attempt", 2)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "retrying" {
		t.Errorf("msg = %v", rec["msg"])
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	_, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}
