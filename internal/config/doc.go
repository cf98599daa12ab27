// Package config loads the agent configuration from a YAML or JSON file with
// CRABDAO_ prefixed environment overrides, resolves secrets referenced by
// environment variable name and validates that every required credential is
// present before the agent starts.
package config
