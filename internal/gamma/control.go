package gamma

import (
	"fmt"
	"time"

	"github.com/danmuck/gammactl/internal/observability"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/signal"
)

type teardownReason string

const (
	reasonRequest          teardownReason = "request"
	reasonResource         teardownReason = "resource_destroyed"
	reasonFailed           teardownReason = "failed"
	reasonSuperseded       teardownReason = "superseded"
	reasonUnsupported      teardownReason = "unsupported"
	reasonOutputDestroyed  teardownReason = "output_destroyed"
	reasonManagerDestroyed teardownReason = "manager_destroyed"
)

const invalidGammaMessage = "The gamma ramps don't have the correct size"

// Control grants one client the right to set the gamma ramp of one output.
type Control struct {
	manager       *Manager
	output        output.Output
	setter        output.GammaSetter
	res           ControlResource
	outputDestroy *signal.Listener[output.Output]
	clientID      string
	since         time.Time
	applied       int
	tracked       bool
	destroyed     bool
}

var _ ControlHandler = (*Control)(nil)

func (c *Control) Output() output.Output {
	return c.output
}

// Destroyed reports whether the control reached its terminal state.
func (c *Control) Destroyed() bool {
	return c.destroyed
}

func (c *Control) Info() ControlInfo {
	return ControlInfo{
		Output:    c.output.Name(),
		Client:    c.clientID,
		GammaSize: c.output.GammaSize(),
		Applied:   c.applied,
		Since:     c.since,
	}
}

// SetGamma reads one ramp from stream and applies it. The stream is always
// closed before returning.
func (c *Control) SetGamma(stream Stream) {
	defer func() {
		if err := stream.Close(); err != nil {
			c.manager.log.Debug().Err(err).Msg("close ramp stream")
		}
	}()
	if c.destroyed {
		observability.RecordSetGamma("inert", 0)
		return
	}

	rampSize := c.output.GammaSize()
	expected := int(rampSize) * 3 * SampleWidth
	if size, ok := streamSize(stream); ok && size != int64(expected) {
		c.manager.log.Warn().
			Str("output", c.output.Name()).
			Str("client", c.clientID).
			Int64("size", size).
			Int("expected", expected).
			Err(ErrInvalidRampSize).
			Msg("gamma protocol violation")
		observability.RecordSetGamma("invalid_size", 0)
		c.res.PostError(ErrorInvalidGamma, invalidGammaMessage)
		return
	}

	if expected > c.manager.maxRampBytes {
		c.manager.log.Error().
			Str("output", c.output.Name()).
			Int("bytes", expected).
			Int("limit", c.manager.maxRampBytes).
			Err(ErrRampTooLarge).
			Msg("gamma ramp buffer")
		observability.RecordSetGamma("no_memory", 0)
		c.res.PostNoMemory()
		return
	}

	if err := stream.SetNonblock(); err != nil {
		observability.RecordSetGamma("nonblock_failed", 0)
		c.fail(fmt.Errorf("%w: %v", ErrNonblockFailed, err), reasonFailed)
		return
	}

	buf := acquireRamp(rampSize)
	defer buf.release()

	n, err := stream.Read(buf.raw)
	if err != nil {
		observability.RecordSetGamma("read_failed", n)
		c.fail(fmt.Errorf("%w: %v", ErrShortRead, err), reasonFailed)
		return
	}
	if n != expected {
		observability.RecordSetGamma("short_read", n)
		c.fail(fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, expected), reasonFailed)
		return
	}

	r, g, b := buf.channels(rampSize)
	if !c.setter.SetGamma(rampSize, r, g, b) {
		observability.RecordSetGamma("rejected", n)
		c.fail(ErrRampRejected, reasonFailed)
		return
	}
	c.applied++
	observability.RecordSetGamma("applied", n)
	c.manager.log.Debug().
		Str("output", c.output.Name()).
		Str("client", c.clientID).
		Uint32("gamma_size", rampSize).
		Msg("gamma ramp applied")
}

// Destroy handles the client's destroy request.
func (c *Control) Destroy() {
	c.teardown(reasonRequest)
}

// ResourceDestroyed handles transport-side destruction of the resource.
func (c *Control) ResourceDestroyed() {
	c.teardown(reasonResource)
}

// fail sends the terminal failed event and destroys the control.
func (c *Control) fail(cause error, reason teardownReason) {
	if c.destroyed {
		return
	}
	c.manager.log.Info().
		Str("output", c.output.Name()).
		Str("client", c.clientID).
		Err(cause).
		Msg("gamma control failed")
	c.res.SendFailed()
	c.teardown(reason)
}

func (c *Control) teardown(reason teardownReason) {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.res.Release()
	c.outputDestroy.Remove()
	if c.tracked {
		c.manager.untrack(c)
		c.tracked = false
	}
	// The output is already going away; its capability may no longer be valid.
	if reason != reasonOutputDestroyed && c.setter != nil {
		if !c.setter.SetGamma(0, nil, nil, nil) {
			c.manager.log.Warn().Str("output", c.output.Name()).Msg("passthrough reset rejected")
		}
	}
	observability.RecordControlDestroyed(string(reason))
	c.manager.log.Debug().
		Str("output", c.output.Name()).
		Str("client", c.clientID).
		Str("reason", string(reason)).
		Msg("gamma control destroyed")
}
