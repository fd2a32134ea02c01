package realtime

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carwash-backend/internal/session"
)

func newTestServer(t *testing.T, hub *Hub, initial *session.State) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bayID, _ := strconv.ParseInt(r.URL.Query().Get("bay"), 10, 64)
		_ = hub.Serve(w, r, bayID, initial)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, bayID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?bay=" + strconv.FormatInt(bayID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) session.State {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var s session.State
	require.NoError(t, conn.ReadJSON(&s))
	return s
}

func TestHub_DeliversOnlyToWatchedBay(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub, nil)

	bay1 := dial(t, srv, 1)
	bay2 := dial(t, srv, 2)
	require.Eventually(t, func() bool { return hub.Clients(1) == 1 && hub.Clients(2) == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(session.State{Type: "session_state", Event: session.EventCashInserted, BayID: 1, TotalBalance: 500})
	hub.Publish(session.State{Type: "session_state", Event: session.EventTick, BayID: 2, TotalBalance: 40})

	got := readState(t, bay1)
	assert.Equal(t, session.EventCashInserted, got.Event)
	assert.Equal(t, 500.0, got.TotalBalance)

	got = readState(t, bay2)
	assert.Equal(t, int64(2), got.BayID)
	assert.Equal(t, 40.0, got.TotalBalance)
}

func TestHub_SendsInitialSnapshot(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub, &session.State{Type: "session_state", Event: session.EventSnapshot, BayID: 3, TotalBalance: 75})

	conn := dial(t, srv, 3)
	got := readState(t, conn)
	assert.Equal(t, session.EventSnapshot, got.Event)
	assert.Equal(t, 75.0, got.TotalBalance)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub, nil)

	conn := dial(t, srv, 4)
	require.Eventually(t, func() bool { return hub.Clients(4) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients(4) == 0 }, 2*time.Second, 10*time.Millisecond)

	// Publishing to a bay nobody watches is a no-op.
	hub.Publish(session.State{BayID: 4})
	hub.Close()
}
