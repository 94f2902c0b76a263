//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

var ErrProtocol = errors.New("transport: protocol error")

// ProtocolError is a fatal error event received from the server.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error object=%d code=%d: %s", e.Object, e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// Client is the requesting side of the socket.
type Client struct {
	uc     *net.UnixConn
	nextID uint32
}

// Dial connects once.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unixpacket", path)
	if err != nil {
		return nil, err
	}
	return &Client{uc: conn.(*net.UnixConn)}, nil
}

// DialWithBackoff retries Dial until it succeeds, ctx is done, or
// maxAttempts (when > 0) is reached.
func DialWithBackoff(ctx context.Context, path string, cfg BackoffConfig, maxAttempts int) (*Client, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		c, err := Dial(ctx, path)
		if err == nil {
			return c, nil
		}
		lastErr = err
		timer := time.NewTimer(cfg.Delay(attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial %s: %w (last error: %v)", path, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("dial %s: %w", path, lastErr)
}

func (c *Client) newID() uint32 {
	c.nextID++
	return c.nextID
}

// Bind binds the named global and returns the new object id.
func (c *Client) Bind(iface string, version uint32) (uint32, error) {
	id := c.newID()
	return id, c.send(Envelope{Type: TypeBind, ID: id, Interface: iface, Version: version}, nil)
}

// GetGammaControl requests a control for output and returns its object id.
func (c *Client) GetGammaControl(manager uint32, outputName string) (uint32, error) {
	id := c.newID()
	return id, c.send(Envelope{Type: TypeGetGammaControl, Object: manager, ID: id, Output: outputName}, nil)
}

// SetGamma sends fd as the ramp stream. The caller keeps ownership of fd.
func (c *Client) SetGamma(control uint32, fd int) error {
	return c.send(Envelope{Type: TypeSetGamma, Object: control}, unix.UnixRights(fd))
}

func (c *Client) Destroy(object uint32) error {
	return c.send(Envelope{Type: TypeDestroy, Object: object}, nil)
}

// Send writes a raw envelope, for callers that speak the protocol directly.
func (c *Client) Send(e Envelope, fds ...int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return c.send(e, oob)
}

func (c *Client) send(e Envelope, oob []byte) error {
	payload, err := encodeEnvelope(e)
	if err != nil {
		return err
	}
	_, _, err = c.uc.WriteMsgUnix(payload, oob, nil)
	return err
}

// Next reads the next event. Error events are returned as *ProtocolError.
func (c *Client) Next(ctx context.Context) (Envelope, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.uc.SetReadDeadline(deadline)
		defer c.uc.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, WireLimits.MaxFrameBytes()+1)
	n, err := c.uc.Read(buf)
	if err != nil {
		return Envelope{}, err
	}
	if n == 0 {
		return Envelope{}, ErrConnClosed
	}
	e, err := decodeEnvelope(buf[:n])
	if err != nil {
		return Envelope{}, err
	}
	if e.Type == TypeError {
		return e, &ProtocolError{Object: e.Object, Code: e.Code, Message: e.Message}
	}
	return e, nil
}

func (c *Client) Close() error {
	return c.uc.Close()
}
