// Package config loads, normalizes, and validates kontext configuration.
//
// Defaults cover a stock single-host install: paths under the user's home,
// a local ComfyUI checkout launched through conda, and the FLUX Kontext
// workflow template. Load reads one TOML file, expands ~ in every path
// field, falls back to the TELEGRAM_TOKEN environment variable when the
// file carries no token, and rejects configurations the daemon could not
// run with.
//
// Downstream code reads settings only through Config so it always sees
// expanded paths and validated values.
package config
