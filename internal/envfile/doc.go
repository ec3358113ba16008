// Package envfile loads flat KEY=VALUE environment files and merges them into
// an environment store without overriding variables that are already set.
// There is no quoting, interpolation or export syntax: everything after the
// first '=' is the value, trimmed of surrounding whitespace.
package envfile
