//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/danmuck/gammactl/internal/gamma"
	"github.com/danmuck/gammactl/internal/observability"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/signal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrGlobalExists = errors.New("transport: global already registered")
	ErrServerClosed = errors.New("transport: server closed")
	ErrObjectInUse  = errors.New("transport: object id in use")
	ErrConnClosed   = errors.New("transport: connection closed")
	// ErrClientStalled drops a client whose socket buffer is full.
	ErrClientStalled = errors.New("transport: client not reading events")
)

// Server is the display side of the socket: it publishes globals, accepts
// clients and owns the event loop.
type Server struct {
	cfg     Config
	loop    *Loop
	outputs *output.Set
	log     zerolog.Logger

	ln        *net.UnixListener
	globals   map[string]*global
	conns     map[*Conn]struct{}
	destroy   signal.Signal[struct{}]
	destroyed bool
	nextConn  atomic.Uint64
}

var _ gamma.Display = (*Server)(nil)

type global struct {
	server  *Server
	iface   string
	version uint32
	bind    gamma.BindFunc
}

func (g *global) Destroy() {
	if cur, ok := g.server.globals[g.iface]; ok && cur == g {
		delete(g.server.globals, g.iface)
	}
}

// NewServer creates a server resolving output names against outputs.
func NewServer(cfg Config, outputs *output.Set, logger ...zerolog.Logger) *Server {
	cfg = cfg.WithDefaults()
	l := log.Logger
	if len(logger) > 0 {
		l = logger[0]
	}
	if outputs == nil {
		outputs = output.NewSet()
	}
	return &Server{
		cfg:     cfg,
		loop:    NewLoop(cfg.QueueSize),
		outputs: outputs,
		log:     l.With().Str("component", "transport").Logger(),
		globals: make(map[string]*global),
		conns:   make(map[*Conn]struct{}),
	}
}

func (s *Server) Loop() *Loop {
	return s.loop
}

func (s *Server) Outputs() *output.Set {
	return s.outputs
}

// CreateGlobal publishes iface. Must be called before Run or on the loop.
func (s *Server) CreateGlobal(iface string, version uint32, bind gamma.BindFunc) (gamma.Global, error) {
	if s.destroyed {
		return nil, ErrServerClosed
	}
	if _, ok := s.globals[iface]; ok {
		return nil, fmt.Errorf("%w: %s", ErrGlobalExists, iface)
	}
	g := &global{server: s, iface: iface, version: version, bind: bind}
	s.globals[iface] = g
	return g, nil
}

func (s *Server) OnDestroy() *signal.Signal[struct{}] {
	return &s.destroy
}

// Globals lists published interface names.
func (s *Server) Globals() []string {
	out := make([]string, 0, len(s.globals))
	for name := range s.globals {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Conns returns the number of open connections.
func (s *Server) Conns() int {
	return len(s.conns)
}

// Listen binds the socket, replacing a stale socket file.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unixpacket"})
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.SocketPath, err)
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	return nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

// Run accepts clients and runs the event loop until ctx is done, then tears
// the display down on the loop goroutine.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.log.Info().Str("socket", s.cfg.SocketPath).Strs("globals", s.Globals()).Msg("transport listening")

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop()
	}()

	err := s.loop.Run(ctx)
	s.shutdown()
	s.loop.Close()
	<-acceptDone
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop() {
	for {
		uc, err := s.ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept")
			continue
		}
		if !s.loop.Post(func() { s.addConn(uc) }) {
			_ = uc.Close()
			return
		}
	}
}

func (s *Server) addConn(uc *net.UnixConn) {
	if s.destroyed {
		_ = uc.Close()
		return
	}
	c := newConn(s, "client-"+strconv.FormatUint(s.nextConn.Add(1), 10), uc)
	s.conns[c] = struct{}{}
	observability.AddConnections(1)
	s.log.Debug().Str("client", c.id).Msg("client connected")
	go c.readLoop()
}

func (s *Server) removeConn(c *Conn) {
	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	observability.AddConnections(-1)
}

// shutdown emits display teardown, then closes every client and the
// listener. Runs on the loop goroutine.
func (s *Server) shutdown() {
	if s.destroyed {
		return
	}
	s.destroy.Emit(struct{}{})
	s.destroyed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.teardown()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.log.Info().Msg("transport stopped")
}
