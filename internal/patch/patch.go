// SPDX-License-Identifier: MPL-2.0

// Package patch rewrites path tokens in installed text assets.
//
// Rewrites operate on raw bytes, so content around a match is never
// re-encoded, and they are idempotent: a position where the replacement
// already begins is left alone, and passes repeat until nothing changes. Files are replaced atomically with their
// mode and owner preserved.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/pkg/manifest"
)

type (
	// Result describes the outcome of a rule on one target.
	Result struct {
		Target        string `json:"target"`
		Substitutions int    `json:"substitutions"`
	}

	// Patcher applies rewrite rules to files in a target filesystem.
	Patcher struct {
		fs     afero.Fs
		logger *slog.Logger
	}
)

// New returns a Patcher over target.
func New(target afero.Fs, logger *slog.Logger) *Patcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{fs: target, logger: logger}
}

// Apply rewrites every target of rule. All targets are checked before any
// file is touched; a missing or non-regular target is a
// RewriteTargetMissing fault.
func (p *Patcher) Apply(rule manifest.Rewrite) ([]Result, error) {
	for _, target := range rule.Targets {
		if err := p.checkTarget(target); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(rule.Targets))
	for _, target := range rule.Targets {
		n, err := p.rewrite(target, []byte(rule.Token), []byte(rule.Replacement))
		if err != nil {
			return results, err
		}
		p.logger.Debug("rewrite applied", "target", target, "token", rule.Token, "substitutions", n)
		results = append(results, Result{Target: target, Substitutions: n})
	}
	return results, nil
}

// Pending returns how many unrewritten occurrences of the rule's token
// remain across its targets.
func (p *Patcher) Pending(rule manifest.Rewrite) (int, error) {
	total := 0
	for _, target := range rule.Targets {
		if err := p.checkTarget(target); err != nil {
			return 0, err
		}
		data, err := afero.ReadFile(p.fs, target)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", target, err)
		}
		_, n, err := Replace(data, []byte(rule.Token), []byte(rule.Replacement))
		if err != nil {
			return 0, fault.New(fault.KindInvalidManifest, target, err)
		}
		total += n
	}
	return total, nil
}

func (p *Patcher) checkTarget(target string) error {
	info, err := p.fs.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fault.Newf(fault.KindRewriteTargetMissing, target, "rewrite target was not installed")
	case err != nil:
		return fmt.Errorf("stat %s: %w", target, err)
	case !info.Mode().IsRegular():
		return fault.Newf(fault.KindRewriteTargetMissing, target, "rewrite target is not a regular file")
	}
	return nil
}

func (p *Patcher) rewrite(target string, token, replacement []byte) (int, error) {
	info, err := p.fs.Stat(target)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", target, err)
	}
	data, err := afero.ReadFile(p.fs, target)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", target, err)
	}
	out, n, err := Replace(data, token, replacement)
	if err != nil {
		return 0, fault.New(fault.KindInvalidManifest, target, err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := fsys.WriteFileAtomic(p.fs, target, out, fsys.ModeBits(info.Mode())); err != nil {
		return 0, err
	}
	if uid, gid, ok := fsys.OwnerOf(info); ok {
		if err := p.fs.Chown(target, uid, gid); err != nil {
			return n, fmt.Errorf("restore owner of %s: %w", target, err)
		}
	}
	return n, nil
}

// ErrUnstableRule is returned for a rule whose output keeps producing new
// occurrences of its token.
var ErrUnstableRule = errors.New("rewrite rule does not reach a fixed point")

// Replace rewrites every occurrence of token in data to replacement and
// returns the result with the substitution count. Passes are repeated until
// one makes no substitution, so a token re-formed by a previous pass (as in
// collapsing "//" to "/") is rewritten too and Replace(Replace(x)) equals
// Replace(x). A rule that has not settled after len(data)+2 passes, or that
// grows the data beyond maxGrowth times its size, fails with
// ErrUnstableRule.
func Replace(data, token, replacement []byte) ([]byte, int, error) {
	if len(token) == 0 || bytes.Equal(token, replacement) {
		return data, 0, nil
	}
	limit := maxGrowth*len(data) + len(replacement)
	out, total := data, 0
	for range len(data) + 2 {
		next, n := replaceOnce(out, token, replacement)
		if n == 0 {
			return out, total, nil
		}
		if len(next) > limit {
			break
		}
		out, total = next, total+n
	}
	return data, 0, fmt.Errorf("%w: %q -> %q", ErrUnstableRule, token, replacement)
}

// maxGrowth bounds how much a rule may enlarge a file.
const maxGrowth = 16

// replaceOnce makes a single left-to-right pass. Where both token and
// replacement start at a position the longer one wins: a replacement that
// extends the token marks an already rewritten occurrence and is copied
// through, while a token that extends the replacement is rewritten.
func replaceOnce(data, token, replacement []byte) ([]byte, int) {
	if !bytes.Contains(data, token) {
		return data, 0
	}
	skipFirst := len(replacement) >= len(token)

	var buf bytes.Buffer
	buf.Grow(len(data))
	n := 0
	for i := 0; i < len(data); {
		rest := data[i:]
		switch {
		case skipFirst && bytes.HasPrefix(rest, replacement):
			buf.Write(replacement)
			i += len(replacement)
		case bytes.HasPrefix(rest, token):
			buf.Write(replacement)
			i += len(token)
			n++
		case len(replacement) > 0 && bytes.HasPrefix(rest, replacement):
			buf.Write(replacement)
			i += len(replacement)
		default:
			buf.WriteByte(data[i])
			i++
		}
	}
	if n == 0 {
		return data, 0
	}
	return buf.Bytes(), n
}
