// SPDX-License-Identifier: MPL-2.0

// Package pipeline orders and runs provisioning steps.
//
// A Plan is built from steps that declare the resources they consume and
// produce. The dependency graph derived from those declarations decides the
// execution order; declaration order only breaks ties. The Orchestrator then
// walks the plan under a validated state machine:
//
//	pending -> running(step) -> running(next) | failed(step) | completed
//
// Inputs that no step produces must already exist in the target, which is
// checked before the first step starts. Transient failures of safe-to-repeat
// steps are retried with exponential backoff; everything else stops the run
// at the failing step, leaving the target as it was at that point.
package pipeline
