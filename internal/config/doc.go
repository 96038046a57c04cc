// SPDX-License-Identifier: MPL-2.0

// Package config handles layerkit's own configuration using Viper with CUE as
// the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/layerkit/config.cue (or the
// platform equivalent: ~/Library/Application Support/layerkit on macOS,
// %APPDATA%\layerkit on Windows), falling back to ./config.cue and then to
// built-in defaults. Files are validated against the embedded #Config schema
// (config_schema.cue). LAYERKIT_* environment variables override file values;
// nested keys use underscores, e.g. LAYERKIT_RETRY_ATTEMPTS.
package config
