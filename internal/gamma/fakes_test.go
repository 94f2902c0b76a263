package gamma

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/signal"
)

var rampBuffersLive atomic.Int64

func init() {
	rampTrace = func(delta int64) { rampBuffersLive.Add(delta) }
}

type eventLog []string

func (l *eventLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	*l = append(*l, fmt.Sprintf(format, args...))
}

type fakeDisplay struct {
	destroy   signal.Signal[struct{}]
	bind      BindFunc
	iface     string
	version   uint32
	global    *fakeGlobal
	globalErr error
	events    *eventLog
}

func (d *fakeDisplay) CreateGlobal(iface string, version uint32, bind BindFunc) (Global, error) {
	if d.globalErr != nil {
		return nil, d.globalErr
	}
	d.iface = iface
	d.version = version
	d.bind = bind
	d.global = &fakeGlobal{events: d.events}
	return d.global, nil
}

func (d *fakeDisplay) OnDestroy() *signal.Signal[struct{}] {
	return &d.destroy
}

type fakeGlobal struct {
	destroyed int
	events    *eventLog
}

func (g *fakeGlobal) Destroy() {
	g.destroyed++
	g.events.add("global destroy")
}

type fakeClient struct {
	id          string
	noMemory    int
	failManager bool
	failControl bool
	managers    []*fakeManagerResource
	controls    []*fakeControlResource
	events      *eventLog
}

func (c *fakeClient) ID() string {
	return c.id
}

func (c *fakeClient) NewManagerResource(version, id uint32, h ManagerHandler) (ManagerResource, error) {
	if c.failManager {
		return nil, errors.New("out of ids")
	}
	r := &fakeManagerResource{handler: h, client: c}
	c.managers = append(c.managers, r)
	return r, nil
}

func (c *fakeClient) NewControlResource(version, id uint32, h ControlHandler) (ControlResource, error) {
	if c.failControl {
		return nil, errors.New("out of ids")
	}
	r := &fakeControlResource{handler: h, client: c, id: id}
	c.controls = append(c.controls, r)
	return r, nil
}

func (c *fakeClient) PostNoMemory() {
	c.noMemory++
	c.events.add("%s no_memory", c.id)
}

// lastControl returns the most recently created control resource.
func (c *fakeClient) lastControl() *fakeControlResource {
	if len(c.controls) == 0 {
		return nil
	}
	return c.controls[len(c.controls)-1]
}

type fakeManagerResource struct {
	handler  ManagerHandler
	client   *fakeClient
	released int
}

func (r *fakeManagerResource) Release() {
	r.released++
	r.client.events.add("%s manager release", r.client.id)
}

type fakeControlResource struct {
	handler  ControlHandler
	client   *fakeClient
	id       uint32
	sizes    []uint32
	failed   int
	errors   []ErrorCode
	noMemory int
	released int
}

func (r *fakeControlResource) SendGammaSize(size uint32) {
	r.sizes = append(r.sizes, size)
	r.client.events.add("%s gamma_size %d", r.client.id, size)
}

func (r *fakeControlResource) SendFailed() {
	r.failed++
	r.client.events.add("%s failed", r.client.id)
}

func (r *fakeControlResource) PostError(code ErrorCode, msg string) {
	r.errors = append(r.errors, code)
	r.client.events.add("%s error %s", r.client.id, code)
}

func (r *fakeControlResource) PostNoMemory() {
	r.noMemory++
	r.client.events.add("%s no_memory", r.client.id)
}

func (r *fakeControlResource) Release() {
	r.released++
	r.client.events.add("%s control release", r.client.id)
}

func (r *fakeControlResource) control() *Control {
	return r.handler.(*Control)
}

// pipeStream has no length inspection, like a pipe.
type pipeStream struct {
	data        []byte
	readErr     error
	nonblockErr error
	nonblock    bool
	reads       int
	closed      int
}

func (s *pipeStream) Read(p []byte) (int, error) {
	s.reads++
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.data) == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func (s *pipeStream) SetNonblock() error {
	if s.nonblockErr != nil {
		return s.nonblockErr
	}
	s.nonblock = true
	return nil
}

func (s *pipeStream) Close() error {
	s.closed++
	return nil
}

// fileStream reports a declared length.
type fileStream struct {
	pipeStream
	size int64
}

func (s *fileStream) Size() (int64, bool) {
	return s.size, true
}

func newFileStream(data []byte) *fileStream {
	return &fileStream{pipeStream: pipeStream{data: data}, size: int64(len(data))}
}

// recordingOutput logs every SetGamma call into a shared event log.
type recordingOutput struct {
	*output.Virtual
	events *eventLog
}

func (o *recordingOutput) SetGamma(size uint32, r, g, b []uint16) bool {
	if size == 0 {
		o.events.add("%s reset", o.Name())
	} else {
		o.events.add("%s apply %d", o.Name(), size)
	}
	return o.Virtual.SetGamma(size, r, g, b)
}
