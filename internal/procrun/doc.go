// Package procrun supervises child processes. It owns the process handle for
// the duration of the run: stdin is closed so the child can never block on
// reads, stdout/stderr are streamed line-by-line into caller-supplied sinks,
// and cancellation turns into SIGTERM, a grace period, then SIGKILL — always
// followed by a wait, so files handed to the child are safe to delete once
// Run returns.
package procrun
