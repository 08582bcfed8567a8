// Package config loads and validates burrow-hub configuration from YAML files.
//
// Configuration files support ${VAR_NAME} environment variable expansion and
// Go duration strings (e.g. "24h", "5m") for time-based settings. Defaults
// are applied for everything except the server address and database path,
// which must be set explicitly.
package config
