// Package config loads, normalizes, and validates birdwatcher configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY, optionally sourced from a .env file. Directory settings that
// are left blank hang off paths.data_dir so a single knob relocates the whole
// data set.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
