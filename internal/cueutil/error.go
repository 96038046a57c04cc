// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned by CheckFileSize.
var ErrFileTooLarge = errors.New("file too large")

type (
	// Issue is one CUE diagnostic, located by the manifest field it is about.
	Issue struct {
		// Field is a JSON-style path such as "regions[1].mode", empty when
		// CUE reported no location.
		Field   string
		Message string
	}

	// FileError collects the diagnostics CUE reported for one file.
	FileError struct {
		File   string
		Issues []Issue
		cause  error
	}
)

func (e *FileError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s: %v", e.File, e.cause)
	}
	lines := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		lines[i] = is.String()
	}
	if len(lines) == 1 {
		return e.File + ": " + lines[0]
	}
	return e.File + ": validation failed:\n  " + strings.Join(lines, "\n  ")
}

func (e *FileError) Unwrap() error { return e.cause }

func (is Issue) String() string {
	if is.Field == "" {
		return is.Message
	}
	return is.Field + ": " + is.Message
}

// FormatError turns err into a *FileError naming file, one issue per error
// CUE reports. The original error stays reachable through errors.Is.
func FormatError(err error, file string) error {
	if err == nil {
		return nil
	}
	fe := &FileError{File: file, cause: err}
	for _, ce := range cueerrors.Errors(err) {
		field := fieldPath(cueerrors.Path(ce))
		msg := ce.Error()
		if field != "" {
			// CUE may lead the message with the path it already reported.
			if rest, ok := strings.CutPrefix(msg, field); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		fe.Issues = append(fe.Issues, Issue{Field: field, Message: msg})
	}
	return fe
}

// fieldPath joins CUE path selectors, writing list indexes in brackets:
// ["regions", "0", "mode"] becomes "regions[0].mode".
func fieldPath(selectors []string) string {
	var sb strings.Builder
	for _, sel := range selectors {
		if _, err := strconv.Atoi(sel); err == nil && sb.Len() > 0 {
			sb.WriteString("[" + sel + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(sel)
	}
	return sb.String()
}

// CheckFileSize rejects data longer than limit bytes.
func CheckFileSize(data []byte, limit int64, file string) error {
	if n := int64(len(data)); n > limit {
		return fmt.Errorf("%s: %w: %d bytes exceeds maximum %d bytes", file, ErrFileTooLarge, n, limit)
	}
	return nil
}
