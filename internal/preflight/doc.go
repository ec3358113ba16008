// Package preflight verifies that the Metabase connection settings are present
// before the server process is started.
package preflight
