// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestRootIgnore(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	tests := []struct {
		name string
		root string
		want []string
	}{
		{name: "nested root", root: filepath.Join(src, "out", "rootfs"), want: []string{"out/rootfs/**"}},
		{name: "root outside sources", root: t.TempDir(), want: nil},
		{name: "root is the source tree", root: src, want: nil},
		{name: "filesystem root", root: "/", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := rootIgnore(src, tt.root); !slices.Equal(got, tt.want) {
				t.Errorf("rootIgnore(%q) = %v, want %v", tt.root, got, tt.want)
			}
		})
	}
}
