// Package gamma owns per-output gamma ramp control sessions.
//
// Ownership boundary:
// - manager global registration and client endpoints
// - one-controller-per-output exclusivity
// - ramp transfer, validation and apply
// - passthrough reset on every teardown path
//
// Lifecycle order:
// - bind -> get_gamma_control -> set_gamma* -> destroy
//
// - a newer control for the same output supersedes the older one.
//
// - output destruction tears down its control without a reset.
//
// Every exported entry point must be called from the goroutine that owns the
// transport's event loop. The package holds no locks.
package gamma
