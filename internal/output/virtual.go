package output

import (
	"sync"

	"github.com/danmuck/gammactl/internal/signal"
)

// Ramp is a snapshot of the tables applied to an output.
type Ramp struct {
	Size    uint32
	R, G, B []uint16
}

// Passthrough reports whether the ramp is the identity reset.
func (r Ramp) Passthrough() bool {
	return r.Size == 0 && len(r.R) == 0 && len(r.G) == 0 && len(r.B) == 0
}

// VirtualConfig describes a software output.
type VirtualConfig struct {
	Name      string
	GammaSize uint32
	Gamma     bool
	// Reject makes every non-reset SetGamma call fail.
	Reject bool
}

// Virtual is an in-memory output that records every ramp applied to it.
type Virtual struct {
	mu        sync.Mutex
	cfg       VirtualConfig
	current   Ramp
	history   []Ramp
	destroyed bool

	destroy signal.Signal[Output]
}

var _ GammaSetter = (*Virtual)(nil)

func NewVirtual(cfg VirtualConfig) *Virtual {
	return &Virtual{cfg: cfg}
}

func (v *Virtual) Name() string {
	return v.cfg.Name
}

func (v *Virtual) GammaSize() uint32 {
	return v.cfg.GammaSize
}

func (v *Virtual) GammaSupported() bool {
	return v.cfg.Gamma
}

func (v *Virtual) OnDestroy() *signal.Signal[Output] {
	return &v.destroy
}

// SetRejecting toggles apply failures.
func (v *Virtual) SetRejecting(reject bool) {
	v.mu.Lock()
	v.cfg.Reject = reject
	v.mu.Unlock()
}

func (v *Virtual) SetGamma(size uint32, r, g, b []uint16) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed || !v.cfg.Gamma {
		return false
	}
	if size != 0 && v.cfg.Reject {
		return false
	}
	ramp := Ramp{
		Size: size,
		R:    cloneSamples(r),
		G:    cloneSamples(g),
		B:    cloneSamples(b),
	}
	v.current = ramp
	v.history = append(v.history, ramp)
	return true
}

// Current returns the ramp in effect.
func (v *Virtual) Current() Ramp {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// History returns every ramp applied, oldest first.
func (v *Virtual) History() []Ramp {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Ramp, len(v.history))
	copy(out, v.history)
	return out
}

// Resets counts passthrough resets applied so far.
func (v *Virtual) Resets() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, r := range v.history {
		if r.Passthrough() {
			n++
		}
	}
	return n
}

func (v *Virtual) Destroyed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.destroyed
}

// Destroy emits the destroy signal once.
func (v *Virtual) Destroy() {
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return
	}
	v.destroyed = true
	v.mu.Unlock()
	v.destroy.Emit(v)
}

func cloneSamples(in []uint16) []uint16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]uint16, len(in))
	copy(out, in)
	return out
}
