// Package daemon owns the gammactl process lifecycle.
//
// Ownership boundary:
// - output set construction from configuration
// - transport, gamma manager and admin API wiring
//
// Lifecycle order:
// - outputs -> transport -> manager -> admin -> run
//
// - shutdown tears the manager down before the socket closes.
package daemon
