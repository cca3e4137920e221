// Package config loads, normalizes, and validates cosflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// COSFLOW_JWT_SECRET. The Config type centralizes every knob the daemon and CLI
// need, from the database directory to merge ceilings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
