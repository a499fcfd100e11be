package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-game/holdfast/internal/game"
	"github.com/holdfast-game/holdfast/internal/protocol"
)

// recordingTable captures what the transport hands to the actor surface.
type recordingTable struct {
	mu       sync.Mutex
	sinks    []game.Sink
	frames   [][]byte
	detached []string

	attachCh chan game.Sink
	frameCh  chan []byte
	detachCh chan string
}

func newRecordingTable() *recordingTable {
	return &recordingTable{
		attachCh: make(chan game.Sink, 4),
		frameCh:  make(chan []byte, 16),
		detachCh: make(chan string, 4),
	}
}

func (r *recordingTable) Attach(conn game.Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, conn)
	r.mu.Unlock()
	r.attachCh <- conn
}

func (r *recordingTable) Detach(connID string) {
	r.mu.Lock()
	r.detached = append(r.detached, connID)
	r.mu.Unlock()
	r.detachCh <- connID
}

func (r *recordingTable) Deliver(connID string, raw []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, raw)
	r.mu.Unlock()
	r.frameCh <- raw
}

func dialTestTable(t *testing.T, table Table) *websocket.Conn {
	t.Helper()
	upgrader := NewUpgrader(DefaultConfig())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := upgrader.Serve(w, r, table); err != nil {
			t.Errorf("upgrade failed: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeAttachesAndDeliversFrames(t *testing.T) {
	table := newRecordingTable()
	client := dialTestTable(t, table)

	var sink game.Sink
	select {
	case sink = <-table.attachCh:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never attached")
	}
	assert.NotEmpty(t, sink.ID())

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	select {
	case raw := <-table.frameCh:
		assert.JSONEq(t, `{"type":"ping"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestSendReachesClient(t *testing.T) {
	table := newRecordingTable()
	client := dialTestTable(t, table)

	sink := <-table.attachCh
	require.NoError(t, sink.Send(protocol.NewPong(time.UnixMilli(1717243200000))))

	var ev struct {
		Type string `json:"type"`
		Data struct {
			ServerTime int64 `json:"serverTime"`
		} `json:"data"`
	}
	require.NoError(t, client.ReadJSON(&ev))
	assert.Equal(t, "pong", ev.Type)
	assert.Equal(t, int64(1717243200000), ev.Data.ServerTime)
}

func TestClientCloseDetaches(t *testing.T) {
	table := newRecordingTable()
	client := dialTestTable(t, table)

	sink := <-table.attachCh
	require.NoError(t, client.Close())

	select {
	case id := <-table.detachCh:
		assert.Equal(t, sink.ID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("close never reported as detach")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	table := newRecordingTable()
	dialTestTable(t, table)

	sink := <-table.attachCh
	conn := sink.(*Connection)
	require.NoError(t, conn.Close())

	err := sink.Send(protocol.NewPong(time.Now()))
	assert.Error(t, err)
}
