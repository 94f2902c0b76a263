// Package output owns the display-output capability consumed by gamma
// control.
//
// Ownership boundary:
// - gamma size reporting
// - ramp apply / passthrough reset
// - output destruction signaling
// - named output sets for transports and admin surfaces
package output
