package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, Event) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/hosts/connect", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/hosts/connect?uid=20020"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}

func TestHostReceivesFormCallbacks(t *testing.T) {
	hub := NewHub(nil)
	conn, hello := dialHub(t, hub)
	require.Equal(t, "connected", hello.Type)
	require.NotEmpty(t, hello.HostID)

	remote, ok := hub.Lookup(id.ObjectID(hello.HostID))
	require.True(t, ok)
	assert.Equal(t, 1, hub.Len())

	proxy := form.NewHostProxy(remote)
	require.NoError(t, proxy.OnAcquired(context.Background(), form.JsInfo{FormID: 7, FormData: `{"temp":"21"}`}))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "acquired", ev.Type)
	require.NotNil(t, ev.Form)
	assert.Equal(t, int64(7), ev.Form.FormID)

	require.NoError(t, proxy.OnUninstall(context.Background(), []int64{7, 8}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "uninstall", ev.Type)
	assert.Equal(t, []int64{7, 8}, ev.FormIDs)

	require.NoError(t, proxy.OnAcquireState(context.Background(), form.StateReady, nil))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "acquire_state", ev.Type)
	assert.Equal(t, form.StateReady.String(), ev.State)
}

func TestPingAndUnknownMessages(t *testing.T) {
	conn, _ := dialHub(t, NewHub(nil))

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "pong", ev.Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev.Type)
}

func TestDisconnectKillsHostObject(t *testing.T) {
	hub := NewHub(nil)
	conn, hello := dialHub(t, hub)
	remote, ok := hub.Lookup(id.ObjectID(hello.HostID))
	require.True(t, ok)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, remote.IsDead())
	_, ok = hub.Lookup(id.ObjectID(hello.HostID))
	assert.False(t, ok)
}
