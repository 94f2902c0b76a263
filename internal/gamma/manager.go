package gamma

import (
	"fmt"
	"sort"
	"time"

	"github.com/danmuck/gammactl/internal/observability"
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/signal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ManagerInterface        = "zwlr_gamma_control_manager_v1"
	ManagerVersion   uint32 = 1

	// DefaultMaxRampBytes bounds the scratch buffer of one set_gamma request.
	DefaultMaxRampBytes = 1 << 20
)

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithMaxRampBytes caps the ramp buffer. Requests needing more are treated
// as allocation failures.
func WithMaxRampBytes(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRampBytes = n
		}
	}
}

// Manager is the gamma control global for one display.
type Manager struct {
	global         Global
	endpoints      map[*Endpoint]struct{}
	controls       map[output.Output]*Control
	displayDestroy *signal.Listener[struct{}]
	maxRampBytes   int
	log            zerolog.Logger
	destroyed      bool
}

// NewManager publishes the manager global on display and ties its lifetime
// to the display's destroy signal.
func NewManager(display Display, opts ...Option) (*Manager, error) {
	if display == nil {
		return nil, ErrNilDisplay
	}
	m := &Manager{
		endpoints:    make(map[*Endpoint]struct{}),
		controls:     make(map[output.Output]*Control),
		maxRampBytes: DefaultMaxRampBytes,
		log:          log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "gamma").Logger()

	global, err := display.CreateGlobal(ManagerInterface, ManagerVersion, m.bind)
	if err != nil {
		return nil, fmt.Errorf("gamma: create global: %w", err)
	}
	m.global = global
	m.displayDestroy = display.OnDestroy().Subscribe(func(struct{}) {
		m.Destroy()
	})
	observability.SetControlsActive(0)
	return m, nil
}

func (m *Manager) bind(client Client, version, id uint32) {
	ep := &Endpoint{manager: m, client: client, version: version}
	res, err := client.NewManagerResource(version, id, ep)
	if err != nil {
		m.log.Error().Str("client", client.ID()).Err(err).Msg("bind manager")
		client.PostNoMemory()
		return
	}
	ep.res = res
	m.endpoints[ep] = struct{}{}
	m.log.Debug().Str("client", client.ID()).Uint32("version", version).Msg("manager bound")
}

// Destroy tears down every control, then every endpoint, then the global.
// It is safe on a nil or already destroyed manager.
func (m *Manager) Destroy() {
	if m == nil || m.destroyed {
		return
	}
	m.destroyed = true
	m.displayDestroy.Remove()

	for _, c := range m.controlList() {
		c.teardown(reasonManagerDestroyed)
	}
	for ep := range m.endpoints {
		ep.res.Release()
		delete(m.endpoints, ep)
	}
	m.global.Destroy()
	m.log.Info().Msg("gamma manager destroyed")
}

// Destroyed reports whether Destroy has run.
func (m *Manager) Destroyed() bool {
	return m == nil || m.destroyed
}

// Len returns the number of tracked controls.
func (m *Manager) Len() int {
	return len(m.controls)
}

// Endpoints returns the number of bound client endpoints.
func (m *Manager) Endpoints() int {
	return len(m.endpoints)
}

// ControlFor returns the control currently targeting out.
func (m *Manager) ControlFor(out output.Output) (*Control, bool) {
	c, ok := m.controls[out]
	return c, ok
}

// ControlInfo is the admin view of one tracked control.
type ControlInfo struct {
	Output    string    `json:"output"`
	Client    string    `json:"client"`
	GammaSize uint32    `json:"gamma_size"`
	Applied   int       `json:"applied"`
	Since     time.Time `json:"since"`
}

// Controls returns tracked controls ordered by output name.
func (m *Manager) Controls() []ControlInfo {
	list := make([]ControlInfo, 0, len(m.controls))
	for _, c := range m.controlList() {
		list = append(list, c.Info())
	}
	return list
}

func (m *Manager) controlList() []*Control {
	list := make([]*Control, 0, len(m.controls))
	for _, c := range m.controls {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].output.Name() < list[j].output.Name()
	})
	return list
}

func (m *Manager) getControl(ep *Endpoint, id uint32, out output.Output) {
	if m.destroyed {
		return
	}
	if old, ok := m.controls[out]; ok {
		m.log.Info().
			Str("output", out.Name()).
			Str("client", old.clientID).
			Str("by", ep.client.ID()).
			Msg("gamma control superseded")
		observability.RecordSupersede()
		old.fail(ErrControlSuperseded, reasonSuperseded)
	}

	c := &Control{
		manager:  m,
		output:   out,
		clientID: ep.client.ID(),
		since:    time.Now(),
	}
	res, err := ep.client.NewControlResource(ep.version, id, c)
	if err != nil {
		m.log.Error().Str("client", c.clientID).Err(err).Msg("create gamma control")
		observability.RecordControlCreated("no_memory")
		ep.client.PostNoMemory()
		return
	}
	c.res = res
	c.outputDestroy = out.OnDestroy().Subscribe(func(output.Output) {
		c.teardown(reasonOutputDestroyed)
	})

	setter, ok := output.GammaCapable(out)
	if !ok {
		m.log.Info().Str("output", out.Name()).Str("client", c.clientID).Msg("output has no gamma support")
		observability.RecordControlCreated("unsupported")
		c.fail(ErrGammaUnsupported, reasonUnsupported)
		return
	}
	c.setter = setter
	c.tracked = true
	m.controls[out] = c
	observability.RecordControlCreated("tracked")
	observability.SetControlsActive(len(m.controls))

	size := out.GammaSize()
	res.SendGammaSize(size)
	m.log.Info().
		Str("output", out.Name()).
		Str("client", c.clientID).
		Uint32("gamma_size", size).
		Msg("gamma control created")
}

func (m *Manager) untrack(c *Control) {
	if cur, ok := m.controls[c.output]; ok && cur == c {
		delete(m.controls, c.output)
		observability.SetControlsActive(len(m.controls))
	}
}

// Endpoint is one client's binding of the manager global.
type Endpoint struct {
	manager *Manager
	client  Client
	version uint32
	res     ManagerResource
}

var _ ManagerHandler = (*Endpoint)(nil)

func (e *Endpoint) GetGammaControl(id uint32, out output.Output) {
	e.manager.getControl(e, id, out)
}

func (e *Endpoint) ResourceDestroyed() {
	delete(e.manager.endpoints, e)
}
