package gamma

import (
	"encoding/binary"
	"sync"
)

// SampleWidth is the byte width of one ramp sample.
const SampleWidth = 2

var (
	rampPool sync.Pool

	// rampTrace, when set, sees +1 on acquire and -1 on release.
	rampTrace func(delta int64)
)

// rampBuffer is the scratch space for one set_gamma request. It must be
// released before the request returns.
type rampBuffer struct {
	raw     []byte
	samples []uint16
}

func acquireRamp(rampSize uint32) *rampBuffer {
	n := int(rampSize) * 3
	b, _ := rampPool.Get().(*rampBuffer)
	if b == nil {
		b = &rampBuffer{}
	}
	if cap(b.raw) < n*SampleWidth {
		b.raw = make([]byte, n*SampleWidth)
		b.samples = make([]uint16, n)
	}
	b.raw = b.raw[:n*SampleWidth]
	b.samples = b.samples[:n]
	if rampTrace != nil {
		rampTrace(1)
	}
	return b
}

func (b *rampBuffer) release() {
	clear(b.raw)
	clear(b.samples)
	if rampTrace != nil {
		rampTrace(-1)
	}
	rampPool.Put(b)
}

// channels decodes the raw bytes and returns the R, G and B segments in
// stream order.
func (b *rampBuffer) channels(rampSize uint32) (r, g, bl []uint16) {
	for i := range b.samples {
		b.samples[i] = binary.NativeEndian.Uint16(b.raw[i*SampleWidth:])
	}
	n := int(rampSize)
	return b.samples[:n:n], b.samples[n : 2*n : 2*n], b.samples[2*n : 3*n : 3*n]
}
