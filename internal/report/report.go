// SPDX-License-Identifier: MPL-2.0

// Package report records the outcome of a build: the final pipeline state,
// one entry per step and the digest of the provisioned tree. Reports are
// encoded as deterministic CBOR and written atomically.
package report

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/internal/pipeline"
)

// Version is the report format version written by this package.
const Version = 1

// ErrUnsupportedVersion is returned when decoding a report of another
// format version.
var ErrUnsupportedVersion = errors.New("unsupported report version")

type (
	// Report is the persisted result of one build.
	Report struct {
		Version    int           `cbor:"version" json:"version"`
		BuildID    string        `cbor:"build_id" json:"build_id"`
		Manifest   string        `cbor:"manifest" json:"manifest"`
		Root       string        `cbor:"root" json:"root"`
		DryRun     bool          `cbor:"dry_run,omitempty" json:"dry_run,omitempty"`
		State      string        `cbor:"state" json:"state"`
		FailedStep string        `cbor:"failed_step,omitempty" json:"failed_step,omitempty"`
		Kind       string        `cbor:"kind,omitempty" json:"kind,omitempty"`
		Error      string        `cbor:"error,omitempty" json:"error,omitempty"`
		Started    time.Time     `cbor:"started" json:"started"`
		Duration   time.Duration `cbor:"duration" json:"duration"`
		Digest     fsys.Digest   `cbor:"digest,omitempty" json:"digest,omitempty"`
		Moves      []Move        `cbor:"moves,omitempty" json:"moves,omitempty"`
		Steps      []Step        `cbor:"steps" json:"steps"`
	}

	// Step is the record of one step.
	Step struct {
		Name        string        `cbor:"name" json:"name"`
		Description string        `cbor:"description,omitempty" json:"description,omitempty"`
		Class       string        `cbor:"class" json:"class"`
		Status      string        `cbor:"status" json:"status"`
		Attempts    int           `cbor:"attempts" json:"attempts"`
		Duration    time.Duration `cbor:"duration" json:"duration"`
		Changed     bool          `cbor:"changed" json:"changed"`
		Summary     string        `cbor:"summary,omitempty" json:"summary,omitempty"`
		Kind        string        `cbor:"kind,omitempty" json:"kind,omitempty"`
		Error       string        `cbor:"error,omitempty" json:"error,omitempty"`
		Details     any           `cbor:"details,omitempty" json:"details,omitempty"`
	}

	// Move is a step that ran earlier than declared.
	Move struct {
		Step   string `cbor:"step" json:"step"`
		Before string `cbor:"before" json:"before"`
	}

	// Meta is the build context that the pipeline result does not carry.
	Meta struct {
		BuildID  string
		Manifest string
		Root     string
		DryRun   bool
		Digest   fsys.Digest
	}
)

// NewBuildID returns a fresh random build identifier.
func NewBuildID() string {
	return uuid.NewString()
}

// New builds a report from a pipeline result. An empty BuildID is replaced
// with a fresh one.
func New(meta Meta, res *pipeline.Result) *Report {
	if meta.BuildID == "" {
		meta.BuildID = NewBuildID()
	}
	r := &Report{
		Version:  Version,
		BuildID:  meta.BuildID,
		Manifest: meta.Manifest,
		Root:     meta.Root,
		DryRun:   meta.DryRun,
		Digest:   meta.Digest,
		State:    string(res.Status.State),
		Started:  res.Started.UTC(),
		Duration: res.Duration,
	}
	if res.Status.State == pipeline.StateFailed {
		r.FailedStep = res.Status.Step
		if res.Status.Cause != nil {
			r.Kind = fault.KindOf(res.Status.Cause).String()
			r.Error = res.Status.Cause.Error()
		}
	}
	for _, m := range res.Moves {
		r.Moves = append(r.Moves, Move{Step: m.Step, Before: m.Before})
	}
	for _, s := range res.Steps {
		st := Step{
			Name:        s.Name,
			Description: s.Description,
			Class:       string(s.Class),
			Status:      string(s.Status),
			Attempts:    s.Attempts,
			Duration:    s.Duration,
			Changed:     s.Changed,
			Summary:     s.Summary,
			Details:     s.Details,
		}
		if s.Err != nil {
			st.Kind = fault.KindOf(s.Err).String()
			st.Error = s.Err.Error()
		}
		r.Steps = append(r.Steps, st)
	}
	return r
}

// Failed reports whether the build ended in the failed state.
func (r *Report) Failed() bool {
	return r.State == string(pipeline.StateFailed)
}

// Marshal encodes r as deterministic CBOR.
func Marshal(r *Report) ([]byte, error) {
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR report.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.Version)
	}
	return &r, nil
}

// Write encodes r and atomically replaces path with it.
func Write(path string, r *Report) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return Unmarshal(data)
}
