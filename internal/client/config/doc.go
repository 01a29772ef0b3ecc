// Package config loads runtime configuration for the OpenEmail CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or TOML file selected via -c or -config; the extension
//     picks the decoder.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string   data folder
//	-l string   log level
//	-t int      HTTP timeout (seconds)
//	-v          verify host delegation
//
// # File schema
//
// Durations are strings such as "30s". Keys left out keep their earlier
// value:
//
//	data_dir = "/home/alice/.openemail"
//	log_level = "debug"
//	http_timeout = "15s"
//	retry_attempts = 5
//	verify_host_delegation = true
//
// Note: This package does not read environment variables directly; use the
// file or flags to configure values.
package config
