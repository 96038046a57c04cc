// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/layerkit/layerkit/internal/cueutil"
)

const (
	// FormatCUE is validated against the embedded #Manifest schema.
	FormatCUE Format = "cue"
	// FormatYAML covers .yaml and .yml files.
	FormatYAML Format = "yaml"
	// FormatTOML covers .toml files.
	FormatTOML Format = "toml"
	// FormatJSON covers .json and .jsonc files; comments and trailing commas
	// are accepted in both.
	FormatJSON Format = "json"
	// FormatHCL covers .hcl files.
	FormatHCL Format = "hcl"
)

var (
	//go:embed manifest_schema.cue
	manifestSchema []byte

	// ErrUnknownFormat is returned for a manifest extension no decoder handles.
	ErrUnknownFormat = errors.New("unknown manifest format")
	// ErrVarsUnsupported is returned when variables are passed for a format
	// without template support.
	ErrVarsUnsupported = errors.New("manifest variables require a .cue or .hcl manifest")
)

// Format identifies a manifest encoding.
type Format string

// FormatOf picks the format from a file name's extension.
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Base(filename))
	}
}

// Load reads and parses the manifest at filename from fs.
func Load(fs afero.Fs, filename string, vars map[string]string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest at %s: %w", filename, err)
	}
	return Parse(data, filename, vars)
}

// Parse decodes data in the format implied by filename, applies vars and
// validates the result.
func Parse(data []byte, filename string, vars map[string]string) (*Manifest, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, filename); err != nil {
		return nil, err
	}
	if len(vars) > 0 && format != FormatCUE && format != FormatHCL {
		return nil, fmt.Errorf("%s: %w", filename, ErrVarsUnsupported)
	}

	var m *Manifest
	switch format {
	case FormatCUE:
		m, err = parseCUE(data, filename, vars)
	case FormatYAML:
		m, err = parseYAML(data, filename)
	case FormatTOML:
		m, err = parseTOML(data, filename)
	case FormatJSON:
		m, err = parseJSON(data, filename)
	case FormatHCL:
		m, err = parseHCL(data, filename, vars)
	}
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return m, nil
}

func parseCUE(data []byte, filename string, vars map[string]string) (*Manifest, error) {
	opts := []cueutil.Option{cueutil.WithFilename(filename)}
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		opts = append(opts, cueutil.WithFill("vars."+k, vars[k]))
	}
	res, err := cueutil.ParseAndDecode[Manifest](manifestSchema, data, "#Manifest", opts...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func parseYAML(data []byte, filename string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty manifest", filename)
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &m, nil
}

func parseTOML(data []byte, filename string) (*Manifest, error) {
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %w", filename, row, col, err)
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &m, nil
}

func parseJSON(data []byte, filename string) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &m, nil
}
