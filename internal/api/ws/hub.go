package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Event is pushed to a connected host.
type Event struct {
	Type      string       `json:"type"`
	HostID    string       `json:"host_id,omitempty"`
	Form      *form.JsInfo `json:"form,omitempty"`
	FormIDs   []int64      `json:"form_ids,omitempty"`
	State     string       `json:"state,omitempty"`
	Want      *types.Want  `json:"want,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Message is read from a connected host.
type Message struct {
	Type string `json:"type"`
}

// Host is one connected socket acting as a form host.
type Host struct {
	conn   *websocket.Conn
	object *ipc.LocalObject
	uid    int32

	mu sync.Mutex
}

var _ form.HostClient = (*Host)(nil)

func (h *Host) send(ev Event) error {
	ev.Timestamp = time.Now().Unix()
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return h.conn.WriteJSON(ev)
}

func (h *Host) OnAcquired(_ context.Context, info form.JsInfo) error {
	return h.send(Event{Type: "acquired", Form: &info})
}

func (h *Host) OnUpdate(_ context.Context, info form.JsInfo) error {
	return h.send(Event{Type: "update", Form: &info})
}

func (h *Host) OnUninstall(_ context.Context, formIDs []int64) error {
	return h.send(Event{Type: "uninstall", FormIDs: formIDs})
}

func (h *Host) OnAcquireState(_ context.Context, state form.State, want *types.Want) error {
	return h.send(Event{Type: "acquire_state", State: state.String(), Want: want})
}

// Object is the remote object form calls name this host by.
func (h *Host) Object() ipc.RemoteObject { return h.object }

// UID is the caller uid the host connected with.
func (h *Host) UID() int32 { return h.uid }

// Hub tracks connected hosts.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	hosts map[id.ObjectID]*Host
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, hosts: make(map[id.ObjectID]*Host)}
}

// Lookup returns the remote object of a connected host.
func (h *Hub) Lookup(hostID id.ObjectID) (ipc.RemoteObject, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	host, ok := h.hosts[hostID]
	if !ok {
		return nil, false
	}
	return host.object, true
}

// Len returns the number of connected hosts.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hosts)
}

// HandleConnection upgrades the request and serves the host until the
// socket closes. The uid query parameter is the host's caller uid.
func (h *Hub) HandleConnection(c *gin.Context) {
	uid, _ := strconv.ParseInt(c.Query("uid"), 10, 32)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	host := &Host{conn: conn, uid: int32(uid)}
	host.object = ipc.NewLocalObject("wshost", form.NewHostStub(host))
	hostID := host.object.ID()

	h.mu.Lock()
	h.hosts[hostID] = host
	h.mu.Unlock()
	h.logger.Info("form host connected", zap.String("host", string(hostID)), zap.Int32("uid", host.uid))

	defer func() {
		h.mu.Lock()
		delete(h.hosts, hostID)
		h.mu.Unlock()
		host.object.Kill()
		h.logger.Info("form host disconnected", zap.String("host", string(hostID)))
	}()

	if err := host.send(Event{Type: "connected", HostID: string(hostID)}); err != nil {
		return
	}
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case "ping":
			host.send(Event{Type: "pong"}) //nolint:errcheck
		default:
			host.send(Event{Type: "error", Error: "unknown message type"}) //nolint:errcheck
		}
	}
}
