// SPDX-License-Identifier: MPL-2.0

// Package issue turns provisioning failures into user-facing guidance.
//
// ActionableError carries the operation, resource and remediation hints shown
// on a failed command; the catalog holds one Markdown guide per fault kind,
// rendered with glamour by "layerkit explain".
package issue
