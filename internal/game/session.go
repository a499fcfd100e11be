package game

import (
	"strings"

	"github.com/google/uuid"

	"github.com/holdfast-game/holdfast/internal/protocol"
	"github.com/holdfast-game/holdfast/internal/token"
)

// handleJoin authenticates a connection. A valid reconnect secret
// reattaches the existing session regardless of table phase; otherwise a
// fresh PlayerSession is created, subject to the lobby-only join rules.
func (t *Table) handleJoin(conn Sink, msg protocol.Join) {
	if _, authed := t.connToPlayer[conn.ID()]; authed {
		t.reply(conn, ErrInvalidAction)
		return
	}

	if msg.ReconnectToken != "" && msg.ReconnectToken != t.hostSecret {
		for _, p := range t.orderedPlayers() {
			if p.ReconnectSecret == msg.ReconnectToken {
				t.reattach(conn, p)
				return
			}
		}
		// A dead token falls through to a fresh join attempt.
	}

	if t.status != StatusLobby {
		t.reply(conn, ErrGameAlreadyStarted)
		return
	}
	if len(t.players) >= t.settings.MaxPlayers {
		t.reply(conn, ErrTableFull)
		return
	}
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		t.reply(conn, ErrInvalidAction)
		return
	}
	for _, p := range t.players {
		if strings.EqualFold(p.Name, name) {
			t.reply(conn, ErrNameTaken)
			return
		}
	}
	hostClaim := msg.ReconnectToken != "" && msg.ReconnectToken == t.hostSecret
	if t.settings.PasswordRequired() && !hostClaim {
		if !token.CheckPassword(t.settings.PasswordHash, msg.Password) {
			t.reply(conn, ErrInvalidPassword)
			return
		}
	}

	p := &PlayerSession{
		ID:              uuid.New().String(),
		Name:            name,
		ReconnectSecret: token.New(),
		Connected:       true,
		TimeBank:        t.settings.StartingBank,
	}
	t.players[p.ID] = p
	t.order = append(t.order, p.ID)
	t.bindConn(conn.ID(), p.ID)

	// First player in becomes host; the table creator may claim host at
	// any point in the lobby by presenting the host secret.
	if t.hostID == "" || hostClaim {
		t.hostID = p.ID
	}

	t.log.Info().Str("player_id", p.ID).Str("name", p.Name).Bool("host", t.hostID == p.ID).Msg("player joined")

	t.sendTo(conn, protocol.Event{Type: protocol.EventWelcome, Data: protocol.WelcomePayload{
		PlayerID:       p.ID,
		ReconnectToken: p.ReconnectSecret,
		ServerTime:     protocol.Millis(t.clock.Now()),
	}})
	t.sendTo(conn, t.lobbyState())
	t.broadcast(protocol.Event{
		Type: protocol.EventPlayerJoined,
		Data: protocol.PlayerJoinedPayload{Player: t.playerInfo(p)},
	}, conn.ID())
}

// reattach rebinds a session to a new connection. The same identity on a
// second connection supersedes the former one; the old socket is left to
// die on its own and subsequent sends target only the latest attachment.
func (t *Table) reattach(conn Sink, p *PlayerSession) {
	if old, ok := t.playerToConn[p.ID]; ok {
		delete(t.connToPlayer, old)
		delete(t.conns, old)
	}
	wasConnected := p.Connected
	p.Connected = true
	p.DisconnectedAt = zeroTime
	t.bindConn(conn.ID(), p.ID)

	// A mid-round reconnector who is not holding a bid rejoins
	// observation-only: marked released with no bid so the round cannot
	// stall waiting on someone who can no longer start one.
	if t.status == StatusPlaying && (t.phase == PhaseGrace || t.phase == PhaseBidding) && !p.Released {
		p.BidStartedAt = zeroTime
		p.BidDuration = 0
		p.Released = true
	}

	t.log.Info().Str("player_id", p.ID).Str("name", p.Name).Msg("player reconnected")

	t.sendTo(conn, protocol.Event{Type: protocol.EventWelcome, Data: protocol.WelcomePayload{
		PlayerID:       p.ID,
		ReconnectToken: p.ReconnectSecret,
		ServerTime:     protocol.Millis(t.clock.Now()),
	}})
	t.sendTo(conn, t.gameState())
	if !wasConnected {
		t.broadcast(protocol.Event{
			Type: protocol.EventPlayerReconnected,
			Data: protocol.PlayerReconnectedPayload{PlayerID: p.ID},
		}, conn.ID())
	}
	t.checkRoundCompletion()
}

func (t *Table) bindConn(connID, playerID string) {
	t.connToPlayer[connID] = playerID
	t.playerToConn[playerID] = connID
}

func (t *Table) unbindConn(connID string) {
	if playerID, ok := t.connToPlayer[connID]; ok {
		if t.playerToConn[playerID] == connID {
			delete(t.playerToConn, playerID)
		}
		delete(t.connToPlayer, connID)
	}
	delete(t.conns, connID)
}

func (t *Table) handleReady(conn Sink, p *PlayerSession, ready bool) {
	if t.status != StatusLobby {
		t.reply(conn, ErrInvalidAction)
		return
	}
	p.Ready = ready
	t.broadcast(protocol.Event{
		Type: protocol.EventPlayerReady,
		Data: protocol.PlayerReadyPayload{PlayerID: p.ID, IsReady: ready},
	}, "")
}

func (t *Table) handleLeave(conn Sink, p *PlayerSession) {
	t.log.Info().Str("player_id", p.ID).Msg("player left")
	t.unbindConn(conn.ID())
	if t.status == StatusLobby {
		t.removePlayer(p, protocol.Event{
			Type: protocol.EventPlayerLeft,
			Data: protocol.PlayerLeftPayload{PlayerID: p.ID},
		})
	} else {
		// Leaving a running game only disconnects; bank and points are
		// preserved for a possible reconnect.
		t.markDisconnected(p)
	}
	_ = conn.Close()
}

func (t *Table) handleKick(conn Sink, host *PlayerSession, targetID string) {
	if host.ID != t.hostID {
		t.reply(conn, ErrNotHost)
		return
	}
	if targetID == host.ID {
		t.reply(conn, ErrInvalidAction)
		return
	}
	target, ok := t.players[targetID]
	if !ok {
		t.reply(conn, ErrInvalidAction)
		return
	}

	t.log.Info().Str("player_id", target.ID).Str("by", host.ID).Msg("player kicked")

	var targetConn Sink
	if connID, ok := t.playerToConn[target.ID]; ok {
		targetConn = t.conns[connID]
		t.unbindConn(connID)
	}
	if t.status == StatusLobby {
		t.removePlayer(target, protocol.Event{
			Type: protocol.EventPlayerKicked,
			Data: protocol.PlayerKickedPayload{PlayerID: target.ID},
		})
	} else {
		t.markDisconnected(target)
		t.broadcast(protocol.Event{
			Type: protocol.EventPlayerKicked,
			Data: protocol.PlayerKickedPayload{PlayerID: target.ID},
		}, "")
	}
	if targetConn != nil {
		_ = targetConn.Close()
	}
}

// handleDetach processes a closed or failed connection. The session
// survives with connected=false; reconnection within the window restores
// it via the reconnect secret.
func (t *Table) handleDetach(connID string) {
	playerID, authed := t.connToPlayer[connID]
	t.unbindConn(connID)
	if !authed {
		return
	}
	p, ok := t.players[playerID]
	if !ok || !p.Connected {
		return
	}
	t.log.Info().Str("player_id", p.ID).Msg("player disconnected")
	t.markDisconnected(p)
	t.save()
}

func (t *Table) markDisconnected(p *PlayerSession) {
	p.Connected = false
	p.DisconnectedAt = t.clock.Now()
	// Once the game is over there is nothing left to reconnect into, so
	// no deadline is announced.
	if t.status != StatusFinished {
		t.broadcast(protocol.Event{
			Type: protocol.EventPlayerDisconnected,
			Data: protocol.PlayerDisconnectedPayload{
				PlayerID:          p.ID,
				ReconnectDeadline: protocol.Millis(p.DisconnectedAt.Add(ReconnectWindow)),
			},
		}, "")
	}
	// A dropped connection mid-bid leaves that bid uncommitted and the
	// player no longer gates round completion.
	t.checkRoundCompletion()
}

// removePlayer deletes a session outright (lobby only) and announces it.
func (t *Table) removePlayer(p *PlayerSession, ev protocol.Event) {
	delete(t.players, p.ID)
	for i, id := range t.order {
		if id == p.ID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if connID, ok := t.playerToConn[p.ID]; ok {
		t.unbindConn(connID)
	}
	if t.hostID == p.ID {
		t.hostID = ""
		t.reassignHost()
	}
	t.broadcast(ev, "")
}

// reassignHost promotes the first connected player in join order,
// deterministic across restarts.
func (t *Table) reassignHost() {
	for _, p := range t.orderedPlayers() {
		if p.Connected {
			if t.hostID != p.ID {
				t.hostID = p.ID
				t.log.Info().Str("player_id", p.ID).Msg("host reassigned")
				if t.status == StatusLobby {
					t.broadcast(t.lobbyState(), "")
				} else {
					t.broadcast(t.gameState(), "")
				}
			}
			return
		}
	}
}

// handleSweep is the background maintenance pass: while the table sits in
// the lobby it reaps players whose reconnect window has lapsed, and in any
// state it reassigns the host if the current one is absent. During active
// rounds disconnected players are left in place.
func (t *Table) handleSweep() {
	changed := false
	if t.status == StatusLobby {
		now := t.clock.Now()
		for _, p := range t.orderedPlayers() {
			if !p.Connected && !p.DisconnectedAt.IsZero() && now.Sub(p.DisconnectedAt) > ReconnectWindow {
				t.log.Info().Str("player_id", p.ID).Msg("reaping expired lobby session")
				t.removePlayer(p, protocol.Event{
					Type: protocol.EventPlayerLeft,
					Data: protocol.PlayerLeftPayload{PlayerID: p.ID},
				})
				changed = true
			}
		}
	}
	if host, ok := t.players[t.hostID]; t.hostID == "" || (ok && !host.Connected) || !ok {
		before := t.hostID
		t.reassignHost()
		changed = changed || before != t.hostID
	}
	if changed {
		t.save()
	}
}
