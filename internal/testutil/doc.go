// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test doubles and helpers shared by the
// provisioning packages: a scripted package database that answers apt, apk
// and pip commands, an ownership-recording filesystem, and Must* helpers
// that fail the test on setup errors.
package testutil
