// Package config loads the ledger daemon configuration from a YAML or JSON
// file, fills defaults relative to the file location and validates every
// startup-time invariant before any component is built.
package config
