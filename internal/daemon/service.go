//go:build linux

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/gammactl/internal/admin"
	"github.com/danmuck/gammactl/internal/auth"
	"github.com/danmuck/gammactl/internal/gamma"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoOutputs     = errors.New("daemon: no outputs configured")
	ErrInvalidOutput = errors.New("daemon: invalid output config")
)

// OutputConfig describes one virtual output.
type OutputConfig struct {
	Name      string
	GammaSize uint32
	Gamma     bool
}

// ServiceConfig configures the daemon.
type ServiceConfig struct {
	NodeID          string
	Transport       transport.Config
	AdminListenAddr string
	AdminToken      string
	CORSOrigins     []string
	MaxRampBytes    int
	Outputs         []OutputConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "gammactl",
		Transport:       transport.DefaultConfig(),
		AdminListenAddr: "127.0.0.1:7020",
		MaxRampBytes:    gamma.DefaultMaxRampBytes,
		Outputs: []OutputConfig{
			{Name: "virtual-0", GammaSize: 256, Gamma: true},
		},
	}
}

func (c ServiceConfig) Validate() error {
	if len(c.Outputs) == 0 {
		return ErrNoOutputs
	}
	seen := make(map[string]struct{}, len(c.Outputs))
	for i, o := range c.Outputs {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return fmt.Errorf("%w: outputs[%d] missing name", ErrInvalidOutput, i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: duplicate output %q", ErrInvalidOutput, name)
		}
		seen[name] = struct{}{}
		if o.Gamma && o.GammaSize == 0 {
			return fmt.Errorf("%w: output %q has gamma enabled with gamma_size 0", ErrInvalidOutput, name)
		}
	}
	return nil
}

// Service runs the transport, the gamma manager and the admin API.
type Service struct {
	cfg     ServiceConfig
	outputs *output.Set
	server  *transport.Server
	manager *gamma.Manager
	admin   *admin.Server
}

var _ admin.Source = (*Service)(nil)

func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	outputs := output.NewSet()
	for _, oc := range cfg.Outputs {
		if err := outputs.Add(output.NewVirtual(output.VirtualConfig{
			Name:      strings.TrimSpace(oc.Name),
			GammaSize: oc.GammaSize,
			Gamma:     oc.Gamma,
		})); err != nil {
			return nil, err
		}
	}

	srv := transport.NewServer(cfg.Transport, outputs, log.Logger)
	mgr, err := gamma.NewManager(srv,
		gamma.WithLogger(log.Logger),
		gamma.WithMaxRampBytes(cfg.MaxRampBytes),
	)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		outputs: outputs,
		server:  srv,
		manager: mgr,
	}
	if strings.TrimSpace(cfg.AdminListenAddr) != "" {
		var guard auth.Validator
		if token := strings.TrimSpace(cfg.AdminToken); token != "" {
			guard = auth.StaticToken{Token: token}
		}
		s.admin = admin.New(cfg.NodeID, cfg.AdminListenAddr, s, cfg.CORSOrigins, guard)
	}
	return s, nil
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs until ctx is done or a component fails. The transport is
// always drained before Serve returns so outputs are reset.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.server.Listen(); err != nil {
		return err
	}
	log.Info().
		Str("node", s.cfg.NodeID).
		Int("outputs", len(s.cfg.Outputs)).
		Str("socket", s.server.Addr()).
		Msg("gammactl starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transportErr := make(chan error, 1)
	adminErr := make(chan error, 1)
	go func() {
		transportErr <- s.server.Run(ctx)
	}()
	if s.admin != nil {
		go func() {
			adminErr <- s.admin.Serve(ctx)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-transportErr:
		transportErr = nil
	case err = <-adminErr:
		adminErr = nil
	}
	cancel()
	if transportErr != nil {
		if terr := <-transportErr; err == nil {
			err = terr
		}
	}
	if s.admin != nil && adminErr != nil {
		if aerr := <-adminErr; err == nil {
			err = aerr
		}
	}
	log.Info().Str("node", s.cfg.NodeID).Err(err).Msg("gammactl stopped")
	return err
}

func (s *Service) Server() *transport.Server {
	return s.server
}

func (s *Service) Outputs(ctx context.Context) ([]output.Info, error) {
	var list []output.Info
	err := s.server.Loop().Do(ctx, func() {
		list = s.outputs.List()
	})
	return list, err
}

func (s *Service) Controls(ctx context.Context) ([]gamma.ControlInfo, error) {
	var list []gamma.ControlInfo
	err := s.server.Loop().Do(ctx, func() {
		list = s.manager.Controls()
	})
	return list, err
}

func (s *Service) RemoveOutput(ctx context.Context, name string) error {
	var removeErr error
	if err := s.server.Loop().Do(ctx, func() {
		removeErr = s.outputs.Remove(name)
	}); err != nil {
		return err
	}
	return removeErr
}
