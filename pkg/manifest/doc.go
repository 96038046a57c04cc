// SPDX-License-Identifier: MPL-2.0

// Package manifest defines the declarative build input of layerkit and
// loads it from CUE, YAML, TOML, JSON/JSONC or HCL documents.
//
// A manifest lists, in order, the sources to stage, the system and language
// packages to install (with an optional local override per language package),
// the text-asset rewrite rules, the runtime identity and the writable regions
// the running service needs. Every format decodes to the same Manifest value
// and goes through the same structural validation; ordering and existence
// checks that need the whole plan happen in the planner.
package manifest
