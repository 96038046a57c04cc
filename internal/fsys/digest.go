// SPDX-License-Identifier: MPL-2.0

package fsys

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Digest is the BLAKE3 tree digest of a directory, hex encoded.
type Digest string

// TreeDigest hashes every entry under root in lexical order: its relative
// path, type, permission and special bits, and either its content or its
// symlink target. The build lock file is excluded. Two trees with the same
// digest have byte-identical content and identical modes.
func TreeDigest(fsys afero.Fs, root string) (Digest, error) {
	root = Clean(root)
	h := blake3.New()

	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		p = Clean(p)
		if p == LockFile {
			return nil
		}
		rel := "."
		if p != root {
			rel = p[len(root):]
			if root == "/" {
				rel = p
			}
		}

		kind := "f"
		switch {
		case info.IsDir():
			kind = "d"
		case info.Mode()&os.ModeSymlink != 0:
			kind = "l"
		case !info.Mode().IsRegular():
			kind = "o"
		}
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", rel, kind, FormatMode(ModeBits(info.Mode())))

		switch kind {
		case "f":
			sum, err := fileSum(fsys, p)
			if err != nil {
				return err
			}
			h.Write(sum)
		case "l":
			if lr, ok := fsys.(afero.LinkReader); ok {
				target, err := lr.ReadlinkIfPossible(p)
				if err != nil {
					return fmt.Errorf("readlink %s: %w", p, err)
				}
				io.WriteString(h, path.Clean(target))
			}
		}
		h.Write([]byte{'\n'})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", root, err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

func fileSum(fsys afero.Fs, name string) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return h.Sum(nil), nil
}

// FileSum returns the hex BLAKE3 digest of a single file's content.
func FileSum(fsys afero.Fs, name string) (string, error) {
	sum, err := fileSum(fsys, name)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
