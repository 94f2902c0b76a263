//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/danmuck/gammactl/internal/gamma"
	"golang.org/x/sys/unix"
)

type objectKind int

const (
	kindManager objectKind = iota + 1
	kindControl
)

// object is one entry of a connection's object table.
type object struct {
	conn     *Conn
	id       uint32
	kind     objectKind
	manager  gamma.ManagerHandler
	control  gamma.ControlHandler
	released bool
}

// Conn is one client connection. All methods except readLoop run on the
// server loop.
type Conn struct {
	server  *Server
	id      string
	uc      *net.UnixConn
	objects map[uint32]*object
	fatal   bool
	closed  bool
}

var _ gamma.Client = (*Conn)(nil)

func newConn(s *Server, id string, uc *net.UnixConn) *Conn {
	return &Conn{
		server:  s,
		id:      id,
		uc:      uc,
		objects: make(map[uint32]*object),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) NewManagerResource(version, id uint32, h gamma.ManagerHandler) (gamma.ManagerResource, error) {
	obj, err := c.newObject(id, kindManager)
	if err != nil {
		return nil, err
	}
	obj.manager = h
	return &managerResource{obj}, nil
}

func (c *Conn) NewControlResource(version, id uint32, h gamma.ControlHandler) (gamma.ControlResource, error) {
	obj, err := c.newObject(id, kindControl)
	if err != nil {
		return nil, err
	}
	obj.control = h
	return &controlResource{obj}, nil
}

func (c *Conn) newObject(id uint32, kind objectKind) (*object, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	if _, ok := c.objects[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrObjectInUse, id)
	}
	obj := &object{conn: c, id: id, kind: kind}
	c.objects[id] = obj
	return obj, nil
}

func (c *Conn) PostNoMemory() {
	c.postError(0, CodeNoMemory, "out of memory")
}

func (c *Conn) postError(object, code uint32, msg string) {
	if c.closed || c.fatal {
		return
	}
	c.fatal = true
	c.server.log.Warn().
		Str("client", c.id).
		Uint32("object", object).
		Uint32("code", code).
		Str("message", msg).
		Msg("protocol error")
	c.send(Envelope{Type: TypeError, Object: object, Code: code, Message: msg})
}

// send never blocks the loop: a client whose socket buffer is full is
// dropped instead of waited on.
func (c *Conn) send(e Envelope) {
	if c.closed {
		return
	}
	payload, err := encodeEnvelope(e)
	if err != nil {
		c.server.log.Error().Str("client", c.id).Err(err).Msg("encode event")
		c.fatal = true
		return
	}
	if err := c.writeNonblock(payload); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			c.server.log.Warn().Str("client", c.id).Err(fmt.Errorf("%w: %w", ErrClientStalled, err)).Msg("write event")
		} else {
			c.server.log.Debug().Str("client", c.id).Err(err).Msg("write event")
		}
		c.fatal = true
	}
}

func (c *Conn) writeNonblock(payload []byte) error {
	rc, err := c.uc.SyscallConn()
	if err != nil {
		return err
	}
	var sendErr error
	if err := rc.Write(func(fd uintptr) bool {
		sendErr = unix.Sendto(int(fd), payload, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL, nil)
		return true
	}); err != nil {
		return err
	}
	return sendErr
}

// readLoop decodes packets and hands them to the loop. It runs on its own
// goroutine.
func (c *Conn) readLoop() {
	buf := make([]byte, WireLimits.MaxFrameBytes()+1)
	oob := make([]byte, unix.CmsgSpace(c.server.cfg.MaxFds*4))
	for {
		n, oobn, flags, _, err := c.uc.ReadMsgUnix(buf, oob)
		fds, fdErr := parseFds(oob[:oobn])
		if err == nil && n == 0 && oobn == 0 {
			err = io.EOF
		}
		if err != nil {
			closeFds(fds)
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.server.log.Debug().Str("client", c.id).Err(err).Msg("read request")
			}
			c.server.loop.Post(c.teardown)
			return
		}
		env, decErr := decodeEnvelope(buf[:n])
		if decErr == nil && fdErr != nil {
			decErr = fdErr
		}
		if decErr == nil && flags&(unix.MSG_CTRUNC|unix.MSG_TRUNC) != 0 {
			decErr = fmt.Errorf("%w: truncated packet", ErrInvalidEnvelope)
		}
		if !c.server.loop.Post(func() { c.dispatch(env, fds, decErr) }) {
			closeFds(fds)
			return
		}
	}
}

func (c *Conn) dispatch(env Envelope, fds []int, decErr error) {
	defer func() {
		closeFds(fds)
		if c.fatal {
			c.teardown()
		}
	}()
	if c.closed {
		return
	}
	if decErr != nil {
		c.postError(0, CodeInvalidRequest, decErr.Error())
		return
	}
	if env.Type != TypeSetGamma && len(fds) > 0 {
		c.postError(env.Object, CodeInvalidRequest, "unexpected file descriptor")
		return
	}

	switch env.Type {
	case TypeBind:
		c.handleBind(env)
	case TypeGetGammaControl:
		c.handleGetGammaControl(env)
	case TypeSetGamma:
		if len(fds) != 1 {
			c.postError(env.Object, CodeInvalidRequest, "set_gamma requires exactly one file descriptor")
			return
		}
		obj, ok := c.lookup(env.Object, kindControl)
		if !ok {
			return
		}
		fd := fds[0]
		fds = nil
		obj.control.SetGamma(gamma.NewFileStream(fd))
	case TypeDestroy:
		c.handleDestroy(env)
	default:
		c.postError(env.Object, CodeInvalidRequest, "unexpected event type from client")
	}
}

func (c *Conn) handleBind(env Envelope) {
	g, ok := c.server.globals[env.Interface]
	if !ok {
		c.postError(0, CodeInvalidObject, "unknown interface "+env.Interface)
		return
	}
	if env.Version > g.version {
		c.postError(0, CodeInvalidRequest, fmt.Sprintf("%s version %d unsupported", env.Interface, env.Version))
		return
	}
	if _, ok := c.objects[env.ID]; ok {
		c.postError(0, CodeInvalidObject, fmt.Sprintf("object id %d in use", env.ID))
		return
	}
	g.bind(c, env.Version, env.ID)
}

func (c *Conn) handleGetGammaControl(env Envelope) {
	obj, ok := c.lookup(env.Object, kindManager)
	if !ok {
		return
	}
	if _, ok := c.objects[env.ID]; ok {
		c.postError(env.Object, CodeInvalidObject, fmt.Sprintf("object id %d in use", env.ID))
		return
	}
	out, ok := c.server.outputs.Get(env.Output)
	if !ok {
		c.postError(env.Object, CodeInvalidObject, "unknown output "+env.Output)
		return
	}
	obj.manager.GetGammaControl(env.ID, out)
}

func (c *Conn) handleDestroy(env Envelope) {
	obj, ok := c.objects[env.Object]
	if !ok {
		c.postError(env.Object, CodeInvalidObject, fmt.Sprintf("unknown object %d", env.Object))
		return
	}
	delete(c.objects, obj.id)
	if obj.released {
		return
	}
	obj.released = true
	switch obj.kind {
	case kindControl:
		obj.control.Destroy()
	case kindManager:
		obj.manager.ResourceDestroyed()
	}
}

// lookup resolves a live object of the given kind. Released controls stay
// addressable until the client destroys them.
func (c *Conn) lookup(id uint32, kind objectKind) (*object, bool) {
	obj, ok := c.objects[id]
	if !ok || obj.kind != kind {
		c.postError(id, CodeInvalidObject, fmt.Sprintf("unknown object %d", id))
		return nil, false
	}
	if kind == kindManager && obj.released {
		c.postError(id, CodeInvalidObject, fmt.Sprintf("object %d destroyed", id))
		return nil, false
	}
	return obj, true
}

// teardown destroys every live object, controls first, and closes the
// socket.
func (c *Conn) teardown() {
	if c.closed {
		return
	}
	objs := make([]*object, 0, len(c.objects))
	for _, obj := range c.objects {
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool {
		if objs[i].kind != objs[j].kind {
			return objs[i].kind == kindControl
		}
		return objs[i].id < objs[j].id
	})
	for _, obj := range objs {
		if obj.released {
			continue
		}
		obj.released = true
		switch obj.kind {
		case kindControl:
			obj.control.ResourceDestroyed()
		case kindManager:
			obj.manager.ResourceDestroyed()
		}
	}
	c.closed = true
	c.objects = map[uint32]*object{}
	_ = c.uc.Close()
	c.server.removeConn(c)
	c.server.log.Debug().Str("client", c.id).Bool("fatal", c.fatal).Msg("client disconnected")
}

type managerResource struct {
	obj *object
}

func (r *managerResource) Release() {
	r.obj.released = true
}

type controlResource struct {
	obj *object
}

func (r *controlResource) live() bool {
	return !r.obj.released && !r.obj.conn.closed
}

func (r *controlResource) SendGammaSize(size uint32) {
	if r.live() {
		r.obj.conn.send(Envelope{Type: TypeGammaSize, Object: r.obj.id, Size: size})
	}
}

func (r *controlResource) SendFailed() {
	if r.live() {
		r.obj.conn.send(Envelope{Type: TypeFailed, Object: r.obj.id})
	}
}

func (r *controlResource) PostError(code gamma.ErrorCode, msg string) {
	r.obj.conn.postError(r.obj.id, uint32(code), msg)
}

func (r *controlResource) PostNoMemory() {
	r.obj.conn.postError(r.obj.id, CodeNoMemory, "out of memory")
}

func (r *controlResource) Release() {
	r.obj.released = true
}

func parseFds(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET || msg.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		got, err := unix.ParseUnixRights(&msg)
		if err != nil {
			closeFds(fds)
			return nil, err
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
