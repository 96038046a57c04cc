// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"fmt"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/pkg/manifest"
)

// CheckDestinations rejects sources whose destination equals or nests with
// an earlier source's destination, unless the later source sets overwrite.
func CheckDestinations(sources []manifest.Source) error {
	for i, s := range sources {
		if s.Overwrite {
			continue
		}
		for _, prev := range sources[:i] {
			if fsys.Within(s.To, prev.To) || fsys.Within(prev.To, s.To) {
				return fault.Newf(fault.KindInvalidManifest, s.Name,
					"destination %s overlaps %s staged by source %q; set overwrite: true to allow it",
					s.To, prev.To, prev.Name)
			}
		}
	}
	return nil
}
