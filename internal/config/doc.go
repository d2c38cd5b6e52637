// Package config loads and validates the metricsheetd YAML configuration:
// the metric sheet declaration (metric names, compute expressions, rollup
// settings), the HTTP server settings, the change history backend, ingest
// sources, and alert rules.
//
// Compute rules are declared as small expression strings ("newMRR -
// churnedMRR") and compiled into engine functions at load time, so a bad
// expression fails startup instead of an update. Secrets (API key, DSN,
// webhook URLs) are referenced by environment variable name and resolved
// when read, never stored in the file.
//
// Watch re-loads the file on change via fsnotify; an invalid edit keeps
// the previous configuration active.
package config
