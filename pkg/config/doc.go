// Package config loads the Beacon server configuration from YAML with
// BEACON_* environment overrides.
package config
