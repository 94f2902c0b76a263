package gamma

import "io"

// Stream is the byte-stream handle carrying one ramp.
type Stream interface {
	io.ReadCloser
	SetNonblock() error
}

// Sizer is implemented by streams that can report their total length.
// ok is false when the length is unknown.
type Sizer interface {
	Size() (size int64, ok bool)
}

// streamSize returns the declared stream length when it can be inspected.
func streamSize(s Stream) (int64, bool) {
	sz, ok := s.(Sizer)
	if !ok {
		return 0, false
	}
	return sz.Size()
}
