// Package config provides configuration loading and validation for the
// speech translation service. It handles YAML-based configuration with
// per-section validation and typed duration accessors.
package config
