//go:build linux

package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/gammactl/internal/gamma"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/ramp"
	"github.com/danmuck/gammactl/internal/testutil/testlog"
	"golang.org/x/sys/unix"
)

type harness struct {
	t       *testing.T
	server  *Server
	manager *gamma.Manager
	dp      *output.Virtual
	hdmi    *output.Virtual
	cancel  context.CancelFunc
	done    chan error
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	testlog.Start(t)
	outputs := output.NewSet()
	dp := output.NewVirtual(output.VirtualConfig{Name: "DP-1", GammaSize: 256, Gamma: true})
	hdmi := output.NewVirtual(output.VirtualConfig{Name: "HDMI-A-1", GammaSize: 256})
	if err := outputs.Add(dp); err != nil {
		t.Fatalf("add dp: %v", err)
	}
	if err := outputs.Add(hdmi); err != nil {
		t.Fatalf("add hdmi: %v", err)
	}

	srv := NewServer(Config{SocketPath: filepath.Join(t.TempDir(), "gamma.sock")}, outputs)
	mgr, err := gamma.NewManager(srv)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, server: srv, manager: mgr, dp: dp, hdmi: hdmi, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- srv.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Fatalf("server run: %v", err)
		}
		h.done <- nil
	case <-time.After(5 * time.Second):
		h.t.Fatalf("server did not stop")
	}
}

func (h *harness) dial() *Client {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, h.server.Addr())
	if err != nil {
		h.t.Fatalf("dial: %v", err)
	}
	h.t.Cleanup(func() { c.Close() })
	return c
}

// control binds the manager and requests a control for out, returning the
// control id and the first event.
func (h *harness) control(c *Client, out string) (uint32, Envelope) {
	h.t.Helper()
	mgr, err := c.Bind(gamma.ManagerInterface, gamma.ManagerVersion)
	if err != nil {
		h.t.Fatalf("bind: %v", err)
	}
	id, err := c.GetGammaControl(mgr, out)
	if err != nil {
		h.t.Fatalf("get_gamma_control: %v", err)
	}
	return id, h.next(c)
}

func (h *harness) next(c *Client) Envelope {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := c.Next(ctx)
	if err != nil {
		h.t.Fatalf("next event: %v", err)
	}
	return e
}

// eventually polls cond on the server loop.
func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		if err := h.server.Loop().Do(context.Background(), func() { ok = cond() }); err != nil {
			h.t.Fatalf("loop do: %v", err)
		}
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func rampFd(t *testing.T, size int, white ramp.WhitePoint) (int, ramp.Ramp) {
	t.Helper()
	r, err := ramp.Build(size, white, 1)
	if err != nil {
		t.Fatalf("build ramp: %v", err)
	}
	raw, err := ramp.Encode(r)
	if err != nil {
		t.Fatalf("encode ramp: %v", err)
	}
	fd, err := NewRampFile(raw)
	if err != nil {
		t.Fatalf("ramp file: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd, r
}

func TestSetGammaOverSocket(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	id, ev := h.control(c, "DP-1")
	if ev.Type != TypeGammaSize || ev.Object != id || ev.Size != 256 {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	fd, want := rampFd(t, 256, ramp.WhitePointFromKelvin(3400))
	if err := c.SetGamma(id, fd); err != nil {
		t.Fatalf("set_gamma: %v", err)
	}
	h.eventually("ramp applied", func() bool { return h.dp.Current().Size == 256 })

	got := h.dp.Current()
	for i := range want.R {
		if got.R[i] != want.R[i] || got.G[i] != want.G[i] || got.B[i] != want.B[i] {
			t.Fatalf("sample %d mismatch: got=(%d,%d,%d) want=(%d,%d,%d)",
				i, got.R[i], got.G[i], got.B[i], want.R[i], want.G[i], want.B[i])
		}
	}

	if err := c.Destroy(id); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	h.eventually("passthrough reset", func() bool {
		return h.dp.Current().Passthrough() && h.manager.Len() == 0
	})
}

func TestSupersedeAcrossClients(t *testing.T) {
	h := startHarness(t)
	a := h.dial()
	b := h.dial()

	idA, ev := h.control(a, "DP-1")
	if ev.Type != TypeGammaSize || ev.Size != 256 {
		t.Fatalf("client a: unexpected event %+v", ev)
	}
	idB, ev := h.control(b, "DP-1")
	if ev.Type != TypeGammaSize || ev.Object != idB || ev.Size != 256 {
		t.Fatalf("client b: unexpected event %+v", ev)
	}
	if ev := h.next(a); ev.Type != TypeFailed || ev.Object != idA {
		t.Fatalf("client a: expected failed, got %+v", ev)
	}

	// a's control is inert; destroying it must not touch b's control
	if err := a.Destroy(idA); err != nil {
		t.Fatalf("destroy a: %v", err)
	}
	h.eventually("b still tracked", func() bool {
		ctrl, ok := h.manager.ControlFor(h.dp)
		return ok && ctrl.Info().Client != "" && h.manager.Len() == 1 && h.dp.Resets() == 1
	})
}

func TestDeclaredLengthMismatchIsFatal(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	id, _ := h.control(c, "DP-1")

	fd, err := NewRampFile(make([]byte, 256*3*2-1))
	if err != nil {
		t.Fatalf("ramp file: %v", err)
	}
	defer unix.Close(fd)
	if err := c.SetGamma(id, fd); err != nil {
		t.Fatalf("set_gamma: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Next(ctx)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeInvalidGamma || perr.Object != id {
		t.Fatalf("expected invalid_gamma protocol error, got %v", err)
	}
	if _, err := c.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected connection closed, got %v", err)
	}
	h.eventually("connection teardown resets output", func() bool {
		return h.manager.Len() == 0 && h.dp.Resets() == 1 && len(h.dp.History()) == 1
	})
}

func TestShortPipeReadFails(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	id, _ := h.control(c, "DP-1")

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	if _, err := w.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write pipe: %v", err)
	}
	if err := c.SetGamma(id, int(r.Fd())); err != nil {
		t.Fatalf("set_gamma: %v", err)
	}
	if ev := h.next(c); ev.Type != TypeFailed || ev.Object != id {
		t.Fatalf("expected failed, got %+v", ev)
	}
	h.eventually("control destroyed", func() bool { return h.manager.Len() == 0 && h.dp.Resets() == 1 })
}

func TestUnsupportedAndUnknownOutputs(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	id, ev := h.control(c, "HDMI-A-1")
	if ev.Type != TypeFailed || ev.Object != id {
		t.Fatalf("expected failed for unsupported output, got %+v", ev)
	}

	mgr, _ := c.Bind(gamma.ManagerInterface, gamma.ManagerVersion)
	if _, err := c.GetGammaControl(mgr, "VGA-9"); err != nil {
		t.Fatalf("get_gamma_control: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Next(ctx)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeInvalidObject {
		t.Fatalf("expected invalid_object, got %v", err)
	}
}

func TestUnknownInterfaceAndVersion(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	if _, err := c.Bind(gamma.ManagerInterface, gamma.ManagerVersion+1); err != nil {
		t.Fatalf("bind: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Next(ctx)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}

	c2 := h.dial()
	if _, err := c2.Bind("wl_nope", 1); err != nil {
		t.Fatalf("bind: %v", err)
	}
	_, err = c2.Next(ctx)
	if !errors.As(err, &perr) || perr.Code != CodeInvalidObject {
		t.Fatalf("expected invalid_object, got %v", err)
	}
}

func TestDisconnectResetsOutput(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	id, _ := h.control(c, "DP-1")
	fd, _ := rampFd(t, 256, ramp.Neutral)
	if err := c.SetGamma(id, fd); err != nil {
		t.Fatalf("set_gamma: %v", err)
	}
	h.eventually("ramp applied", func() bool { return h.dp.Current().Size == 256 })

	c.Close()
	h.eventually("disconnect teardown", func() bool {
		return h.manager.Len() == 0 && h.manager.Endpoints() == 0 && h.server.Conns() == 0 && h.dp.Current().Passthrough()
	})
}

func TestOutputRemovedWhileControlled(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	h.control(c, "DP-1")

	if err := h.server.Loop().Do(context.Background(), func() {
		if err := h.server.Outputs().Remove("DP-1"); err != nil {
			t.Errorf("remove output: %v", err)
		}
	}); err != nil {
		t.Fatalf("loop do: %v", err)
	}
	h.eventually("control gone", func() bool { return h.manager.Len() == 0 })
	if h.dp.Resets() != 0 {
		t.Fatalf("reset issued on a destroyed output")
	}
}

func TestShutdownTearsDownManager(t *testing.T) {
	h := startHarness(t)
	c := h.dial()
	h.control(c, "DP-1")

	h.stop()
	if !h.manager.Destroyed() {
		t.Fatalf("manager not destroyed on display teardown")
	}
	if h.dp.Resets() != 1 {
		t.Fatalf("expected one reset, got %d", h.dp.Resets())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after shutdown, got %v", err)
	}
	if _, err := os.Stat(h.server.Addr()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("socket not unlinked: %v", err)
	}
}

func TestStalledClientIsDroppedWithoutBlockingOthers(t *testing.T) {
	h := startHarness(t)
	stalled := h.dial()
	mgr, err := stalled.Bind(gamma.ManagerInterface, gamma.ManagerVersion)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	// every request yields a failed event that the client never reads
	for i := 0; i < 5000; i++ {
		if _, err := stalled.GetGammaControl(mgr, "HDMI-A-1"); err != nil {
			break
		}
	}

	start := time.Now()
	other := h.dial()
	id, ev := h.control(other, "DP-1")
	if ev.Type != TypeGammaSize || ev.Object != id {
		t.Fatalf("unexpected event for healthy client: %+v", ev)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("healthy client waited %v behind a stalled one", elapsed)
	}
	h.eventually("stalled client dropped", func() bool { return h.server.Conns() == 1 })
}
