// Package transport owns the Unix socket carrier for gamma control.
//
// Ownership boundary:
// - one JSON envelope per SOCK_SEQPACKET packet
// - stream handles as SCM_RIGHTS ancillary data
// - per-connection object tables and connection teardown
// - the single event loop every gamma call runs on
//
// Fatal errors (protocol errors, allocation failures) are written to the
// peer and the connection is closed once the current request returns.
package transport
