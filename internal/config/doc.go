// Package config loads, normalizes, and validates quarantine configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QUARANTINE_WATCH_DIR. The Config type centralizes every knob the watcher,
// dispatcher, report compiler and CLI need so the state, staging and report
// directories are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
