// Package config loads launcher settings from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > YAML config >
// Environment variables > Defaults. The settings describe where the server
// lives and how to start it; the Metabase connection variables themselves are
// handled by packages envfile and preflight.
package config
