// Package config loads and validates the orchestrator's configuration.
//
// Configuration is TOML on disk, decoded onto a Config populated with
// repository defaults, then path-expanded and validated before use.
package config
