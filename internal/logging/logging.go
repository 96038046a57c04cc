// SPDX-License-Identifier: MPL-2.0

// Package logging builds the structured logger used by every layerkit
// component. Records are emitted through log/slog and rendered by
// charmbracelet/log, which picks a human-friendly layout on terminals and
// logfmt or JSON elsewhere.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

const (
	// FormatAuto selects FormatText on terminals and FormatLogfmt otherwise.
	FormatAuto Format = "auto"
	// FormatText is the colored, column-aligned layout.
	FormatText Format = "text"
	// FormatLogfmt renders key=value pairs.
	FormatLogfmt Format = "logfmt"
	// FormatJSON renders one JSON object per record.
	FormatJSON Format = "json"

	prefix = "layerkit"
)

// ErrInvalidFormat is returned when a log format name is not recognized.
var ErrInvalidFormat = errors.New("invalid log format")

type (
	// Format names a log output layout.
	Format string

	// Options configures New.
	Options struct {
		// Level is a charmbracelet/log level name: debug, info, warn, error.
		Level string
		// Format selects the output layout. Empty means FormatAuto.
		Format Format
		// Timestamps adds the record time to every line.
		Timestamps bool
	}
)

// IsValid returns whether the Format is one of the defined layouts.
func (f Format) IsValid() (bool, []error) {
	switch f {
	case FormatAuto, FormatText, FormatLogfmt, FormatJSON, "":
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidFormat, string(f))}
	}
}

// New returns a slog.Logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if ok, errs := opts.Format.IsValid(); !ok {
		return nil, errs[0]
	}

	handler := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportTimestamp: opts.Timestamps,
		Formatter:       formatterFor(w, opts.Format),
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func formatterFor(w io.Writer, f Format) log.Formatter {
	switch f {
	case FormatText:
		return log.TextFormatter
	case FormatLogfmt:
		return log.LogfmtFormatter
	case FormatJSON:
		return log.JSONFormatter
	default:
		if isTerminal(w) {
			return log.TextFormatter
		}
		return log.LogfmtFormatter
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
