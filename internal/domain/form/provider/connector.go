package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/GriffinCanCode/AgentOS/framework/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// ObjectPrefix prefixes the object id a provider ability registers under.
const ObjectPrefix = "formprovider"

const grpcScheme = "grpc://"

// ErrProviderNotFound is returned when no object serves a provider.
var ErrProviderNotFound = errors.New("form provider not registered")

// ObjectID is the object id the provider ability element registers under.
func ObjectID(element types.ElementName) id.ObjectID {
	return id.ObjectID(ObjectPrefix + "_" + element.Key())
}

// Connector binds connections to provider abilities. Bind results are
// delivered asynchronously through the connection callbacks.
type Connector interface {
	Connect(want *types.Want, conn *Connection) error
	Disconnect(conn *Connection) error
}

// DirectConnectorOptions configures a DirectConnector.
type DirectConnectorOptions struct {
	Bundles bundle.Manager
	// Registry resolves providers living in this process.
	Registry *ipc.Registry
	// Caller is the identity used when dialing remote providers.
	Caller ipc.Caller
	// DialOptions are appended when dialing remote providers.
	DialOptions []grpc.DialOption
	// Breakers guard binds per provider; nil uses a default group.
	Breakers *resilience.Group
	// Tasks delivers connect and disconnect callbacks.
	Tasks  *taskqueue.Queue
	Logger *zap.Logger
}

// DirectConnector resolves provider objects from the ability's address:
// an empty address means the in-process registry, grpc:// a remote
// server.
type DirectConnector struct {
	opts   DirectConnectorOptions
	logger *zap.Logger

	mu     sync.Mutex
	dialed map[string]*ipc.Conn
}

// NewDirectConnector creates a connector.
func NewDirectConnector(opts DirectConnectorOptions) *DirectConnector {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewGroup(resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		})
	}
	return &DirectConnector{
		opts:   opts,
		logger: opts.Logger,
		dialed: make(map[string]*ipc.Conn),
	}
}

// Connect resolves the provider named by want and schedules the bind
// callback.
func (c *DirectConnector) Connect(want *types.Want, conn *Connection) error {
	element := conn.Element()
	if want != nil && !want.Element.IsEmpty() {
		element = want.Element
	}
	if element.BundleName == "" || element.AbilityName == "" {
		return errcode.New(errcode.InvalidParam, "ConnectServiceAbility", "empty provider element")
	}

	var remote ipc.RemoteObject
	err := c.opts.Breakers.Execute(element.Key(), func() error {
		r, err := c.resolve(element)
		remote = r
		return err
	})
	if err != nil {
		return errcode.Wrap(errcode.BindProviderFailed, "ConnectServiceAbility", fmt.Errorf("%s: %w", element.Key(), err))
	}

	deliver := func() { conn.OnAbilityConnectDone(element, remote, 0) }
	return c.post(deliver)
}

// Disconnect schedules the disconnect callback.
func (c *DirectConnector) Disconnect(conn *Connection) error {
	element := conn.Element()
	return c.post(func() { conn.OnAbilityDisconnectDone(element, 0) })
}

func (c *DirectConnector) post(fn func()) error {
	if c.opts.Tasks == nil {
		go fn()
		return nil
	}
	if err := c.opts.Tasks.Post(fn); err != nil {
		return errcode.Wrap(errcode.InnerError, "ConnectServiceAbility", err)
	}
	return nil
}

func (c *DirectConnector) resolve(element types.ElementName) (ipc.RemoteObject, error) {
	if c.opts.Bundles == nil {
		return nil, errcode.New(errcode.GetBmsFailed, "ConnectServiceAbility", "bundle manager unavailable")
	}
	info, _, err := c.opts.Bundles.GetAbilityInfo(element)
	if err != nil {
		return nil, err
	}
	oid := ObjectID(types.ElementName{BundleName: info.BundleName, AbilityName: info.Name})

	var remote ipc.RemoteObject
	switch {
	case info.Address == "":
		if c.opts.Registry == nil {
			return nil, ErrProviderNotFound
		}
		r, ok := c.opts.Registry.Resolve(oid)
		if !ok {
			return nil, ErrProviderNotFound
		}
		remote = r
	case strings.HasPrefix(info.Address, grpcScheme):
		conn, err := c.dial(strings.TrimPrefix(info.Address, grpcScheme))
		if err != nil {
			return nil, err
		}
		remote = conn.Object(oid)
	default:
		return nil, fmt.Errorf("unsupported provider address %q", info.Address)
	}
	if remote.IsDead() {
		return nil, ipc.ErrDeadObject
	}
	return remote, nil
}

func (c *DirectConnector) dial(addr string) (*ipc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.dialed[addr]; ok {
		if !conn.IsDead() {
			return conn, nil
		}
		_ = conn.Close()
		delete(c.dialed, addr)
	}
	conn, err := ipc.Dial(addr, c.opts.Caller, c.logger, c.opts.DialOptions...)
	if err != nil {
		return nil, err
	}
	c.dialed[addr] = conn
	c.logger.Info("dialed form provider", zap.String("addr", addr))
	return conn, nil
}

// Close drops every dialed connection.
func (c *DirectConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for addr, conn := range c.dialed {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.dialed, addr)
	}
	return errors.Join(errs...)
}
