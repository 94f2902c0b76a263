package gamma

import "errors"

// ErrorCode is a protocol error posted on a control resource. Protocol errors
// are fatal to the issuing connection.
type ErrorCode uint32

const (
	ErrorInvalidGamma ErrorCode = 1
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorInvalidGamma:
		return "invalid_gamma"
	default:
		return "unknown"
	}
}

var (
	ErrNilDisplay        = errors.New("gamma: nil display")
	ErrInvalidRampSize   = errors.New("gamma: stream size does not match ramp size")
	ErrRampTooLarge      = errors.New("gamma: ramp exceeds buffer limit")
	ErrShortRead         = errors.New("gamma: short ramp read")
	ErrRampRejected      = errors.New("gamma: output rejected ramp")
	ErrGammaUnsupported  = errors.New("gamma: output does not support gamma")
	ErrNonblockFailed    = errors.New("gamma: cannot switch stream to non-blocking")
	ErrStreamClosed      = errors.New("gamma: stream closed")
	ErrControlSuperseded = errors.New("gamma: control superseded")
)
