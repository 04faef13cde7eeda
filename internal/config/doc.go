// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/envprov/config.cue (defaulting to
// ~/.config/envprov/config.cue), or from ./config.cue when no user file exists.
// ENVPROV_* environment variables override file values (e.g., ENVPROV_CONTAINER_ENGINE).
//
// Configuration files are validated against an embedded CUE schema (config_schema.cue).
package config
