// Package config provides unified configuration loading for RelayDesk,
// layering YAML files and environment variable overrides on top of
// built-in defaults.
package config
