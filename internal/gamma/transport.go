package gamma

import (
	"github.com/danmuck/gammactl/internal/output"
	"github.com/danmuck/gammactl/internal/signal"
)

// Display is the host display lifetime and global registry the manager is
// published on.
type Display interface {
	CreateGlobal(iface string, version uint32, bind BindFunc) (Global, error)
	OnDestroy() *signal.Signal[struct{}]
}

// BindFunc is invoked when a client binds the global.
type BindFunc func(client Client, version, id uint32)

// Global is a registered protocol global.
type Global interface {
	Destroy()
}

// Client is one transport connection.
type Client interface {
	ID() string
	NewManagerResource(version, id uint32, h ManagerHandler) (ManagerResource, error)
	NewControlResource(version, id uint32, h ControlHandler) (ControlResource, error)
	// PostNoMemory reports a fatal allocation failure on the connection.
	PostNoMemory()
}

// ManagerResource is a client's bound manager object.
type ManagerResource interface {
	// Release destroys the object without calling back ResourceDestroyed.
	Release()
}

// ControlResource is the protocol session handle of one Control.
type ControlResource interface {
	SendGammaSize(size uint32)
	SendFailed()
	// PostError reports a protocol violation; the transport tears the
	// connection down after the current request returns.
	PostError(code ErrorCode, msg string)
	PostNoMemory()
	// Release destroys the object without calling back ResourceDestroyed.
	Release()
}

// ManagerHandler receives requests for a bound manager object.
type ManagerHandler interface {
	GetGammaControl(id uint32, out output.Output)
	// ResourceDestroyed is called when the transport destroys the object,
	// including on connection teardown.
	ResourceDestroyed()
}

// ControlHandler receives requests for a control object.
type ControlHandler interface {
	SetGamma(stream Stream)
	Destroy()
	ResourceDestroyed()
}
