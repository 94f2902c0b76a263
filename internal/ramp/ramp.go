// Package ramp builds and serializes gamma ramps for clients.
package ramp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleWidth is the byte width of one serialized sample.
const SampleWidth = 2

var (
	ErrInvalidSize   = errors.New("ramp: invalid size")
	ErrInvalidLength = errors.New("ramp: encoded length is not a multiple of three channels")
)

// WhitePoint scales each channel; 1 is neutral.
type WhitePoint [3]float64

var Neutral = WhitePoint{1, 1, 1}

// Ramp holds one table per channel, all of the same length.
type Ramp struct {
	R, G, B []uint16
}

func (r Ramp) Size() int {
	return len(r.R)
}

// Build computes a linear ramp of size samples scaled by white and
// brightness (0..1).
func Build(size int, white WhitePoint, brightness float64) (Ramp, error) {
	if size < 2 {
		return Ramp{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	brightness = clamp01(brightness)
	out := Ramp{
		R: make([]uint16, size),
		G: make([]uint16, size),
		B: make([]uint16, size),
	}
	for i := 0; i < size; i++ {
		v := float64(i) / float64(size-1) * math.MaxUint16 * brightness
		out.R[i] = uint16(v * clamp01(white[0]))
		out.G[i] = uint16(v * clamp01(white[1]))
		out.B[i] = uint16(v * clamp01(white[2]))
	}
	return out, nil
}

// Identity returns the passthrough-equivalent linear ramp.
func Identity(size int) (Ramp, error) {
	return Build(size, Neutral, 1)
}

// Encode serializes the ramp as contiguous R, G, B blocks of host-order
// samples.
func Encode(r Ramp) ([]byte, error) {
	n := len(r.R)
	if n == 0 || len(r.G) != n || len(r.B) != n {
		return nil, fmt.Errorf("%w: r=%d g=%d b=%d", ErrInvalidSize, len(r.R), len(r.G), len(r.B))
	}
	out := make([]byte, 0, n*3*SampleWidth)
	for _, ch := range [][]uint16{r.R, r.G, r.B} {
		for _, v := range ch {
			out = binary.NativeEndian.AppendUint16(out, v)
		}
	}
	return out, nil
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (Ramp, error) {
	if len(raw) == 0 || len(raw)%(3*SampleWidth) != 0 {
		return Ramp{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(raw))
	}
	n := len(raw) / (3 * SampleWidth)
	samples := make([]uint16, 3*n)
	for i := range samples {
		samples[i] = binary.NativeEndian.Uint16(raw[i*SampleWidth:])
	}
	return Ramp{R: samples[:n:n], G: samples[n : 2*n : 2*n], B: samples[2*n:]}, nil
}

// WhitePointFromKelvin approximates the white point of a black body at the
// given color temperature. 6500K is close to neutral.
func WhitePointFromKelvin(kelvin int) WhitePoint {
	temp := float64(kelvin) / 100.0

	var r, g, b float64
	if temp <= 66 {
		r = 1.0
		g = (99.4708025861*math.Log(temp) - 161.1195681661) / 255.0
	} else {
		r = 329.698727446 * math.Pow(temp-60, -0.1332047592) / 255.0
		g = 288.1221695283 * math.Pow(temp-60, -0.0755148492) / 255.0
	}
	switch {
	case temp >= 66:
		b = 1.0
	case temp <= 19:
		b = 0.0
	default:
		b = (138.5177312231*math.Log(temp-10) - 305.0447927307) / 255.0
	}
	return WhitePoint{clamp01(r), clamp01(g), clamp01(b)}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
