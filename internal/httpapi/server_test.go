package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdfast-game/holdfast/internal/config"
	"github.com/holdfast-game/holdfast/internal/game"
	"github.com/holdfast-game/holdfast/internal/store"
	"github.com/holdfast-game/holdfast/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *game.Manager) {
	t.Helper()
	manager := game.NewManager(store.NewMemory(), clockwork.NewRealClock(), nil)
	s := NewServer(manager, ws.NewUpgrader(ws.DefaultConfig()), config.DefaultLimits(), "http://example.test")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, manager
}

func createBody(mutate func(m map[string]any)) []byte {
	m := map[string]any{
		"name":           "friday night",
		"startingTimeMs": 60_000,
		"rounds":         5,
		"maxPlayers":     4,
		"gracePeriodMs":  3_000,
	}
	if mutate != nil {
		mutate(m)
	}
	b, _ := json.Marshal(m)
	return b
}

func TestCreateTable(t *testing.T) {
	srv, manager := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/tables", "application/json", bytes.NewReader(createBody(nil)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		TableID    string `json:"tableId"`
		HostSecret string `json:"hostSecret"`
		JoinURL    string `json:"joinUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.TableID)
	assert.Len(t, created.HostSecret, 32)
	assert.Equal(t, "http://example.test/ws/tables/"+created.TableID, created.JoinURL)

	tbl, err := manager.Get(created.TableID)
	require.NoError(t, err)
	assert.Equal(t, game.StatusLobby, tbl.Info().Status)
}

func TestCreateTableValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := map[string]func(m map[string]any){
		"empty name":         func(m map[string]any) { m["name"] = "   " },
		"name too long":      func(m map[string]any) { m["name"] = strings.Repeat("x", 65) },
		"starting time low":  func(m map[string]any) { m["startingTimeMs"] = 5_000 },
		"starting time high": func(m map[string]any) { m["startingTimeMs"] = 4_000_000 },
		"zero rounds":        func(m map[string]any) { m["rounds"] = 0 },
		"too many rounds":    func(m map[string]any) { m["rounds"] = 21 },
		"one player":         func(m map[string]any) { m["maxPlayers"] = 1 },
		"too many players":   func(m map[string]any) { m["maxPlayers"] = 17 },
		"negative grace":     func(m map[string]any) { m["gracePeriodMs"] = -1 },
		"grace beyond bound": func(m map[string]any) { m["gracePeriodMs"] = 31_000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/tables", "application/json", bytes.NewReader(createBody(mutate)))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "InvalidSettings", body.Code)
		})
	}
}

func TestCreateTableRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/tables", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTableInfo(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/tables", "application/json",
		bytes.NewReader(createBody(func(m map[string]any) { m["password"] = "sesame" })))
	require.NoError(t, err)
	defer resp.Body.Close()
	var created struct {
		TableID string `json:"tableId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	infoResp, err := http.Get(srv.URL + "/api/tables/" + created.TableID)
	require.NoError(t, err)
	defer infoResp.Body.Close()
	require.Equal(t, http.StatusOK, infoResp.StatusCode)

	var info struct {
		Name             string `json:"name"`
		PlayerCount      int    `json:"playerCount"`
		MaxPlayers       int    `json:"maxPlayers"`
		Status           string `json:"status"`
		PasswordRequired bool   `json:"passwordRequired"`
	}
	require.NoError(t, json.NewDecoder(infoResp.Body).Decode(&info))
	assert.Equal(t, "friday night", info.Name)
	assert.Zero(t, info.PlayerCount)
	assert.Equal(t, 4, info.MaxPlayers)
	assert.Equal(t, "lobby", info.Status)
	assert.True(t, info.PasswordRequired, "info never leaks the password, only that one is set")
}

func TestTableInfoUnknownTable(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tables/no-such-table")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "TableNotFound", body.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestWebsocketJoin exercises the full path from upgrade through the
// realtime join handshake.
func TestWebsocketJoin(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/tables", "application/json", bytes.NewReader(createBody(nil)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var created struct {
		TableID string `json:"tableId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tables/" + created.TableID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "join",
		"data": map[string]string{"name": "alice"},
	}))

	var welcome struct {
		Type string `json:"type"`
		Data struct {
			PlayerID       string `json:"playerId"`
			ReconnectToken string `json:"reconnectToken"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "welcome", welcome.Type)
	assert.NotEmpty(t, welcome.Data.PlayerID)
	assert.NotEmpty(t, welcome.Data.ReconnectToken)

	var lobby struct {
		Type string `json:"type"`
		Data struct {
			HostID  string `json:"hostId"`
			Players []struct {
				Name string `json:"name"`
			} `json:"players"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&lobby))
	assert.Equal(t, "lobbyState", lobby.Type)
	assert.Equal(t, welcome.Data.PlayerID, lobby.Data.HostID)
	require.Len(t, lobby.Data.Players, 1)
	assert.Equal(t, "alice", lobby.Data.Players[0].Name)
}

func TestWebsocketUnknownTable(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tables/no-such-table"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
