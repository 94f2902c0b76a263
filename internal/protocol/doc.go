// Package protocol owns the gammactl socket wire primitives.
//
// Ownership boundary:
// - frame/header primitives, one frame per seqpacket datagram
// - tlv payload primitives
//
// - file descriptors never travel in frames; they ride SCM_RIGHTS next to
//   the frame that names them.
package protocol
