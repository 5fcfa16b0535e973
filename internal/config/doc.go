// Package config loads runtime configuration of the inspector service from
// multiple sources (YAML files, environment variables, CLI flags) with
// precedence: CLI flags > YAML config > Environment variables > Defaults.
// The recipe document itself is not configured here; only where to find it
// and how strictly to check it.
package config
