// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ContainerEnginePodman builds images with Podman.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker builds images with Docker.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEngineAuto picks whichever engine is available.
	ContainerEngineAuto ContainerEngine = "auto"

	// OrderReorder runs steps in dependency order and logs every move.
	// Defined locally to avoid coupling config to internal/pipeline.
	OrderReorder OrderPolicy = "reorder"
	// OrderStrict rejects manifests whose order contradicts a dependency.
	OrderStrict OrderPolicy = "strict"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidOrderPolicy is returned when an OrderPolicy value is not recognized.
	ErrInvalidOrderPolicy = errors.New("invalid order policy")
	// ErrInvalidRetryConfig is returned when retry bounds are inconsistent.
	ErrInvalidRetryConfig = errors.New("invalid retry config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container CLI builds images.
	ContainerEngine string

	// OrderPolicy specifies how manifest order and dependency order reconcile.
	OrderPolicy string

	// InvalidConfigError collects field-level validation errors.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the layerkit configuration.
	Config struct {
		Log LogConfig `json:"log" mapstructure:"log"`
		// ContainerEngine selects the image build backend.
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// Order is the default ordering policy; --strict-order overrides it.
		Order OrderPolicy `json:"order" mapstructure:"order"`
		// Concurrency bounds how many steps of one level run at once.
		Concurrency int         `json:"concurrency" mapstructure:"concurrency"`
		Retry       RetryConfig `json:"retry" mapstructure:"retry"`
		Fetch       FetchConfig `json:"fetch" mapstructure:"fetch"`
		Image       ImageConfig `json:"image" mapstructure:"image"`
		// ReportDir receives build reports when --report is not given.
		// Empty disables implicit reports.
		ReportDir string `json:"report_dir" mapstructure:"report_dir"`
	}

	// LogConfig configures the structured logger.
	LogConfig struct {
		Level  string `json:"level" mapstructure:"level"`
		Format string `json:"format" mapstructure:"format"`
	}

	// RetryConfig bounds retries of transient failures.
	RetryConfig struct {
		Attempts       int           `json:"attempts" mapstructure:"attempts"`
		InitialBackoff time.Duration `json:"initial_backoff" mapstructure:"initial_backoff"`
		MaxBackoff     time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	}

	// FetchConfig configures remote source downloads.
	FetchConfig struct {
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// ImageConfig configures provisioned image builds.
	ImageConfig struct {
		// TagPrefix is the repository part of the content-hash cache tag.
		TagPrefix string `json:"tag_prefix" mapstructure:"tag_prefix"`
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:             LogConfig{Level: "info", Format: "auto"},
		ContainerEngine: ContainerEngineAuto,
		Order:           OrderReorder,
		Concurrency:     1,
		Retry: RetryConfig{
			Attempts:       3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Fetch: FetchConfig{Timeout: 5 * time.Minute},
		Image: ImageConfig{TagPrefix: "layerkit-provisioned"},
	}
}

// IsValid returns whether the ContainerEngine is a known engine.
func (c ContainerEngine) IsValid() (bool, []error) {
	switch c {
	case ContainerEnginePodman, ContainerEngineDocker, ContainerEngineAuto:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q (valid: podman, docker, auto)", ErrInvalidContainerEngine, string(c))}
	}
}

// IsValid returns whether the OrderPolicy is a known policy.
func (p OrderPolicy) IsValid() (bool, []error) {
	switch p {
	case OrderReorder, OrderStrict:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q (valid: reorder, strict)", ErrInvalidOrderPolicy, string(p))}
	}
}

// IsValid checks the retry bounds CUE cannot relate to each other.
func (r RetryConfig) IsValid() (bool, []error) {
	var errs []error
	if r.Attempts < 1 {
		errs = append(errs, fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidRetryConfig, r.Attempts))
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("%w: backoff durations must not be negative", ErrInvalidRetryConfig))
	}
	if r.MaxBackoff > 0 && r.InitialBackoff > r.MaxBackoff {
		errs = append(errs, fmt.Errorf("%w: initial_backoff %s exceeds max_backoff %s", ErrInvalidRetryConfig, r.InitialBackoff, r.MaxBackoff))
	}
	return len(errs) == 0, errs
}

// IsValid validates every field of the Config.
func (c *Config) IsValid() (bool, []error) {
	var errs []error
	for _, check := range []func() (bool, []error){
		c.ContainerEngine.IsValid,
		c.Order.IsValid,
		c.Retry.IsValid,
	} {
		if ok, fieldErrs := check(); !ok {
			errs = append(errs, fieldErrs...)
		}
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if strings.TrimSpace(c.Image.TagPrefix) == "" {
		errs = append(errs, errors.New("image.tag_prefix must not be empty"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors, so errors.Is matches
// both the sentinel and any field sentinel.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
