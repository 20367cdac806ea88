package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/cluster"
	"github.com/notnil/dashsim/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv  *Server
	loop *scheduler.Loop
	c    *cluster.Cluster
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lb := canbus.NewLoopbackBus()
	t.Cleanup(func() { _ = lb.Close() })

	c, err := cluster.New(lb.Open(), cluster.DefaultConfig())
	require.NoError(t, err)
	loop, err := scheduler.New()
	require.NoError(t, err)
	c.Schedule(loop, 40*time.Millisecond, 5*time.Millisecond)

	srv := New(loop, c, nil)
	c.AddSink(srv.Sink())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{srv: srv, loop: loop, c: c, http: hs}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until one of type want arrives, collecting events.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (serverMessage, []string) {
	t.Helper()
	var events []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "event" {
			events = append(events, msg.Event)
		}
		if msg.Type == want {
			return msg, events
		}
	}
}

func TestServer_KeysAndSnapshot(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, clientMessage{Type: "key", Key: "e", Down: true})
	send(t, conn, clientMessage{Type: "key", Key: "e"})
	send(t, conn, clientMessage{Type: "key", Key: "Left", Down: true})
	send(t, conn, clientMessage{Type: "snapshot"})

	msg, events := readUntil(t, conn, "snapshot")
	require.NotNil(t, msg.Snapshot)
	assert.True(t, msg.Snapshot.State.EngineOn)
	assert.True(t, msg.Snapshot.Toggles.LeftSignal)
	assert.Contains(t, events, "turn_signal")
}

func TestServer_Errors(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, clientMessage{Type: "key", Key: "F12", Down: true})
	msg, _ := readUntil(t, conn, "error")
	assert.Contains(t, msg.Error, "unknown key")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg, _ = readUntil(t, conn, "error")
	assert.Equal(t, "malformed message", msg.Error)

	send(t, conn, clientMessage{Type: "reboot"})
	msg, _ = readUntil(t, conn, "error")
	assert.Contains(t, msg.Error, "unknown message type")
}

func TestServer_DisconnectReleasesKeys(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, clientMessage{Type: "key", Key: "Up", Down: true})
	send(t, conn, clientMessage{Type: "snapshot"})
	readUntil(t, conn, "snapshot")
	require.Equal(t, 1, f.srv.Clients())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return f.srv.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// With the pedal released the throttle ramps back to zero.
	require.Eventually(t, func() bool {
		var throttle float64
		_ = f.loop.Do(context.Background(), func() { throttle = f.c.Snapshot().Inputs.Throttle })
		return throttle == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_HTTPSnapshot(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap cluster.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 100.0, snap.State.Fuel)

	post, err := http.Post(f.http.URL+"/snapshot", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}
