// Package environ models the process environment as an explicit key-value
// store so that loading, validation and spawning can be exercised without
// touching the real environment of the test process.
package environ
