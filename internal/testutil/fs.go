// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path"
	"testing"

	"github.com/spf13/afero"
)

// MustWriteFile writes body to name in fs, creating parent directories.
func MustWriteFile(t testing.TB, fs afero.Fs, name, body string, mode os.FileMode) {
	t.Helper()
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", name, err)
	}
	if err := afero.WriteFile(fs, name, []byte(body), mode); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	if err := fs.Chmod(name, mode); err != nil {
		t.Fatalf("failed to chmod %s: %v", name, err)
	}
}

// MustMkdirAll creates dir and its parents in fs.
func MustMkdirAll(t testing.TB, fs afero.Fs, dir string, mode os.FileMode) {
	t.Helper()
	if err := fs.MkdirAll(dir, mode); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}
}

// MustReadFile returns the content of name in fs.
func MustReadFile(t testing.TB, fs afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// MustMode returns the mode of name in fs.
func MustMode(t testing.TB, fs afero.Fs, name string) os.FileMode {
	t.Helper()
	info, err := fs.Stat(name)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", name, err)
	}
	return info.Mode()
}
