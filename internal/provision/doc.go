// SPDX-License-Identifier: MPL-2.0

// Package provision turns a manifest into a provisioning plan.
//
// A Planner translates every manifest entry into pipeline steps with declared
// inputs and outputs, so ordering is derived by the orchestrator rather than
// taken from the manifest:
//
//	build, err := provision.NewPlanner().Plan(m)
//	res, err := pipeline.New().Run(ctx, build.Plan, env)
//
// The same plan renders as a Dockerfile layer (Render) and can be built into
// an image through Docker or Podman (ImageBuilder). Built images are tagged
// with a content hash of the rendered Dockerfile and the staged sources, so
// an unchanged manifest reuses the cached image.
package provision
