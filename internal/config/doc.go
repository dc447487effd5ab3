// Package config loads stoerbot's configuration from an optional JSON or YAML
// file overlaid with environment variables, validates it and watches the file
// for hot reloads.
package config
