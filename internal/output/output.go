package output

import "github.com/danmuck/gammactl/internal/signal"

// Output is one display output as seen by gamma control.
type Output interface {
	Name() string
	// GammaSize returns the number of samples per channel in a ramp.
	GammaSize() uint32
	// OnDestroy fires once when the output goes away.
	OnDestroy() *signal.Signal[Output]
}

// GammaSetter is implemented by outputs that can apply gamma ramps.
// A zero size with nil tables resets the output to passthrough.
type GammaSetter interface {
	SetGamma(size uint32, r, g, b []uint16) bool
}

type gammaSupporter interface {
	GammaSupported() bool
}

// GammaCapable returns the setter for o when o can apply gamma ramps.
func GammaCapable(o Output) (GammaSetter, bool) {
	gs, ok := o.(GammaSetter)
	if !ok {
		return nil, false
	}
	if p, ok := o.(gammaSupporter); ok && !p.GammaSupported() {
		return nil, false
	}
	return gs, true
}
