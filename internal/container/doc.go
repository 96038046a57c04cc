// SPDX-License-Identifier: MPL-2.0

// Package container drives the Docker and Podman CLIs to build the image that
// carries a rendered provisioning layer.
//
// The Engine interface covers the operations the image builder needs: Build
// and ImageExists. DockerEngine and PodmanEngine both
// embed BaseCLIEngine for argument construction and command execution.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback when the
// preferred engine is unavailable, or AutoDetectEngine() when no preference is
// configured (Podman is tried first). Transient engine failures are retried by
// Retry with exponential backoff.
package container
