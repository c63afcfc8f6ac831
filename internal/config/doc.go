// Package config loads, normalizes, and validates the TOML configuration
// that drives a run. Paths are tilde-expanded and made absolute during load.
package config
