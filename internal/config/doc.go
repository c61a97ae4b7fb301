// Package config loads, normalizes, and validates kiosk configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// KIOSK_API_TOKEN and KIOSK_REDIS_ADDR. The Config type centralizes every knob
// the daemon and CLI need: workspace and artifact directories, conversion
// bounds, deduplication windows, reaper thresholds and spooler settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
