// Package application wires the launcher together: it resolves the
// installation root, merges the environment file into the environment,
// validates the Metabase settings and hands the server over to the
// supervisor, translating every outcome into an exit code. This keeps the
// main package focused on CLI parsing.
package application
