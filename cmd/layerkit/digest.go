// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/fsys"
)

func newDigestCommand(_ *App) *cobra.Command {
	return &cobra.Command{
		Use:   "digest <dir>",
		Short: "Print the BLAKE3 tree digest of a directory",
		Long: `Print the BLAKE3 tree digest of a directory.

The digest covers every entry's relative path, type, mode and content, but
not timestamps or ownership. Two builds from identical bases should print
the same digest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			digest, err := fsys.TreeDigest(fsys.OS(dir), "/")
			if err != nil {
				return fmt.Errorf("digest %s: %w", dir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, args[0])
			return nil
		},
	}
}
