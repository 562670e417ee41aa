// Package config provides configuration loading and validation for the voice
// gateway. Values come from defaults, an optional YAML file, and environment
// variable overrides, in that order; validation failures are fatal at startup.
package config
