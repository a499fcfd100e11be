package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/holdfast-game/holdfast/internal/protocol"
	"github.com/holdfast-game/holdfast/internal/store"
)

// Sink is the actor's view of one attached connection. Sends are
// best-effort; a failed send surfaces later as a detach, never as a game
// error.
type Sink interface {
	ID() string
	Send(ev protocol.Event) error
	Close() error
}

// EventPublisher mirrors table broadcasts to an external feed. A nil
// publisher disables the mirror.
type EventPublisher interface {
	Publish(tableID string, ev protocol.Event)
}

// Table is a single-threaded logical actor owning all state for one game
// table. Every inbound event (client message, connection attach/detach,
// timer fire, sweep) is funneled through the inbox and processed one at a
// time; nothing outside the run loop touches the fields below.
type Table struct {
	id         string
	settings   Settings
	hostSecret string

	status         Status
	phase          Phase
	round          int
	phaseStartedAt time.Time
	phaseEndsAt    time.Time
	graceEndedAt   time.Time
	hostID         string
	results        []RoundResult

	players map[string]*PlayerSession // player id -> session
	order   []string                  // player ids in join order

	// Explicit conn <-> session mapping; rebuilt empty after a restore so
	// restored sessions are never assumed connected.
	conns        map[string]Sink
	connToPlayer map[string]string
	playerToConn map[string]string

	inbox chan command
	done  chan struct{}

	clock clockwork.Clock
	store store.Store
	feed  EventPublisher
	log   zerolog.Logger

	timerGen   int
	timerPhase Phase
	timer      clockwork.Timer

	finishedAt time.Time
	createdAt  time.Time
}

type command interface{ isCommand() }

type cmdAttach struct{ conn Sink }
type cmdDetach struct{ connID string }
type cmdMessage struct {
	connID string
	raw    []byte
}
type cmdTimer struct {
	gen   int
	phase Phase
}
type cmdSweep struct{}
type cmdInfo struct{ reply chan Info }
type cmdStop struct{}

func (cmdAttach) isCommand()  {}
func (cmdDetach) isCommand()  {}
func (cmdMessage) isCommand() {}
func (cmdTimer) isCommand()   {}
func (cmdSweep) isCommand()   {}
func (cmdInfo) isCommand()    {}
func (cmdStop) isCommand()    {}

// Info is the read-only summary exposed to the REST facade.
type Info struct {
	ID               string
	Name             string
	PlayerCount      int
	MaxPlayers       int
	Status           Status
	PasswordRequired bool
	Finished         bool
	FinishedAt       time.Time
	Empty            bool
	CreatedAt        time.Time
}

// NewTable creates a table actor in the lobby state. Run must be called
// before any events are delivered.
func NewTable(id string, settings Settings, hostSecret string, st store.Store, clock clockwork.Clock, feed EventPublisher) *Table {
	return &Table{
		id:           id,
		settings:     settings,
		hostSecret:   hostSecret,
		status:       StatusLobby,
		players:      make(map[string]*PlayerSession),
		conns:        make(map[string]Sink),
		connToPlayer: make(map[string]string),
		playerToConn: make(map[string]string),
		inbox:        make(chan command, 256),
		done:         make(chan struct{}),
		clock:        clock,
		store:        st,
		feed:         feed,
		log:          log.With().Str("table_id", id).Logger(),
		createdAt:    clock.Now(),
	}
}

// Run drains the inbox until Stop. It is the only goroutine that mutates
// table state, which removes the need for any locking within a table.
func (t *Table) Run() {
	t.log.Info().Str("name", t.settings.Name).Msg("table actor started")
	t.save()
	for cmd := range t.inbox {
		switch c := cmd.(type) {
		case cmdAttach:
			t.conns[c.conn.ID()] = c.conn
		case cmdDetach:
			t.handleDetach(c.connID)
		case cmdMessage:
			t.handleRaw(c.connID, c.raw)
		case cmdTimer:
			t.handleTimer(c.gen, c.phase)
		case cmdSweep:
			t.handleSweep()
		case cmdInfo:
			c.reply <- t.info()
		case cmdStop:
			t.stopTimer()
			close(t.done)
			t.log.Info().Msg("table actor stopped")
			return
		}
	}
}

func (t *Table) enqueue(cmd command) {
	select {
	case <-t.done:
	case t.inbox <- cmd:
	}
}

// Attach registers a newly accepted connection. It stays unauthenticated
// until its first join; anything except join/ping before that is rejected.
func (t *Table) Attach(conn Sink) { t.enqueue(cmdAttach{conn: conn}) }

// Detach reports that a connection is gone. For an authenticated
// connection this is a disconnection event, not a game error.
func (t *Table) Detach(connID string) { t.enqueue(cmdDetach{connID: connID}) }

// Deliver hands a raw inbound frame to the actor.
func (t *Table) Deliver(connID string, raw []byte) {
	t.enqueue(cmdMessage{connID: connID, raw: raw})
}

// Sweep runs the periodic maintenance pass: lobby reaping of expired
// disconnects and host reassignment.
func (t *Table) Sweep() { t.enqueue(cmdSweep{}) }

// Stop terminates the actor. Pending sends are abandoned.
func (t *Table) Stop() { t.enqueue(cmdStop{}) }

// Info returns a point-in-time summary, or a zero Info if the actor has
// stopped. A request that races the stop is answered with the zero Info
// rather than blocking on a reply that will never come.
func (t *Table) Info() Info {
	reply := make(chan Info, 1)
	select {
	case <-t.done:
		return Info{ID: t.id}
	case t.inbox <- cmdInfo{reply: reply}:
	}
	select {
	case info := <-reply:
		return info
	case <-t.done:
		// The actor may have answered just before stopping.
		select {
		case info := <-reply:
			return info
		default:
			return Info{ID: t.id}
		}
	}
}

func (t *Table) info() Info {
	return Info{
		ID:               t.id,
		Name:             t.settings.Name,
		PlayerCount:      len(t.players),
		MaxPlayers:       t.settings.MaxPlayers,
		Status:           t.status,
		PasswordRequired: t.settings.PasswordRequired(),
		Finished:         t.status == StatusFinished,
		FinishedAt:       t.finishedAt,
		Empty:            len(t.players) == 0,
		CreatedAt:        t.createdAt,
	}
}

// handleRaw decodes one client frame and dispatches it. Unauthenticated
// connections may only join or ping.
func (t *Table) handleRaw(connID string, raw []byte) {
	conn, ok := t.conns[connID]
	if !ok {
		return
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.log.Debug().Err(err).Str("conn_id", connID).Msg("undecodable client message")
		t.reply(conn, ErrInvalidAction)
		return
	}

	playerID, authed := t.connToPlayer[connID]

	switch m := msg.(type) {
	case protocol.Ping:
		t.sendTo(conn, protocol.NewPong(t.clock.Now()))
		return
	case protocol.Join:
		t.handleJoin(conn, m)
		t.save()
		return
	default:
		if !authed {
			t.reply(conn, ErrInvalidAction)
			return
		}
		player := t.players[playerID]
		switch m := msg.(type) {
		case protocol.Ready:
			t.handleReady(conn, player, m.IsReady)
		case protocol.StartGame:
			t.handleStartGame(conn, player)
		case protocol.BidStart:
			t.handleBidStart(player, m.ClientTimestamp)
		case protocol.BidEnd:
			t.handleBidEnd(player, m.ClientTimestamp)
		case protocol.Kick:
			t.handleKick(conn, player, m.PlayerID)
		case protocol.Leave:
			t.handleLeave(conn, player)
		}
		t.save()
	}
}

// reply sends a game error to the originating connection only.
func (t *Table) reply(conn Sink, err *Error) {
	t.sendTo(conn, protocol.NewError(err.Code, err.Message))
}

// sendTo is the single-recipient send used for welcomes, errors and
// snapshots. Failures are logged, not retried.
func (t *Table) sendTo(conn Sink, ev protocol.Event) {
	if err := conn.Send(ev); err != nil {
		t.log.Warn().Err(err).Str("conn_id", conn.ID()).Str("event", string(ev.Type)).Msg("direct send failed")
	}
}

// broadcast delivers an event to every attached connection except exclude.
// Delivery is best-effort and never blocks round logic; the optional feed
// publisher receives a copy of every broadcast.
func (t *Table) broadcast(ev protocol.Event, exclude string) {
	for id, conn := range t.conns {
		if id == exclude {
			continue
		}
		if err := conn.Send(ev); err != nil {
			t.log.Warn().Err(err).Str("conn_id", id).Str("event", string(ev.Type)).Msg("broadcast send failed")
		}
	}
	if t.feed != nil {
		t.feed.Publish(t.id, ev)
	}
}

// persistedTable is the durable table metadata/history record.
type persistedTable struct {
	ID             string        `json:"id"`
	Settings       Settings      `json:"settings"`
	HostSecret     string        `json:"hostSecret,omitempty"`
	Status         Status        `json:"status"`
	Phase          Phase         `json:"phase,omitempty"`
	Round          int           `json:"round"`
	PhaseStartedAt time.Time     `json:"phaseStartedAt,omitempty"`
	PhaseEndsAt    time.Time     `json:"phaseEndsAt,omitempty"`
	GraceEndedAt   time.Time     `json:"graceEndedAt,omitempty"`
	HostID         string        `json:"hostId,omitempty"`
	Order          []string      `json:"order"`
	Results        []RoundResult `json:"results"`
	CreatedAt      time.Time     `json:"createdAt"`
	FinishedAt     time.Time     `json:"finishedAt,omitempty"`
}

// save writes both durable records. It runs inside the actor loop after
// every externally visible change; failures are logged and never fatal.
func (t *Table) save() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta := persistedTable{
		ID:             t.id,
		Settings:       t.settings,
		HostSecret:     t.hostSecret,
		Status:         t.status,
		Phase:          t.phase,
		Round:          t.round,
		PhaseStartedAt: t.phaseStartedAt,
		PhaseEndsAt:    t.phaseEndsAt,
		GraceEndedAt:   t.graceEndedAt,
		HostID:         t.hostID,
		Order:          t.order,
		Results:        t.results,
		CreatedAt:      t.createdAt,
		FinishedAt:     t.finishedAt,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		t.log.Error().Err(err).Msg("marshal table state")
		return
	}

	roster := make([]*PlayerSession, 0, len(t.order))
	for _, id := range t.order {
		roster = append(roster, t.players[id])
	}
	rosterJSON, err := json.Marshal(roster)
	if err != nil {
		t.log.Error().Err(err).Msg("marshal player state")
		return
	}

	if err := t.store.SaveTable(ctx, t.id, metaJSON); err != nil {
		t.log.Error().Err(err).Msg("persist table state")
	}
	if err := t.store.SavePlayers(ctx, t.id, rosterJSON); err != nil {
		t.log.Error().Err(err).Msg("persist player state")
	}
}

// restore rebuilds a table actor from its persisted records. Every player
// comes back disconnected; a phase timer matching the persisted phase is
// re-armed from the stored deadline.
func restore(rec store.Record, st store.Store, clock clockwork.Clock, feed EventPublisher) (*Table, error) {
	var meta persistedTable
	if err := json.Unmarshal(rec.Table, &meta); err != nil {
		return nil, err
	}
	var roster []*PlayerSession
	if len(rec.Players) > 0 {
		if err := json.Unmarshal(rec.Players, &roster); err != nil {
			return nil, err
		}
	}

	t := NewTable(meta.ID, meta.Settings, meta.HostSecret, st, clock, feed)
	t.status = meta.Status
	t.phase = meta.Phase
	t.round = meta.Round
	t.phaseStartedAt = meta.PhaseStartedAt
	t.phaseEndsAt = meta.PhaseEndsAt
	t.graceEndedAt = meta.GraceEndedAt
	t.hostID = meta.HostID
	t.results = meta.Results
	t.createdAt = meta.CreatedAt
	t.finishedAt = meta.FinishedAt
	t.order = meta.Order

	for _, p := range roster {
		p.Connected = false
		if p.DisconnectedAt.IsZero() {
			p.DisconnectedAt = clock.Now()
		}
		t.players[p.ID] = p
	}

	if t.status == StatusPlaying {
		t.rearmRestoredPhase()
	}
	return t, nil
}

// orderedPlayers returns sessions in deterministic join order; all
// registry iteration goes through this.
func (t *Table) orderedPlayers() []*PlayerSession {
	out := make([]*PlayerSession, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.players[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (t *Table) settingsInfo() protocol.SettingsInfo {
	return protocol.SettingsInfo{
		Name:             t.settings.Name,
		StartingTimeMs:   t.settings.StartingBank.Milliseconds(),
		TotalRounds:      t.settings.TotalRounds,
		MaxPlayers:       t.settings.MaxPlayers,
		GracePeriodMs:    t.settings.GracePeriod.Milliseconds(),
		PasswordRequired: t.settings.PasswordRequired(),
	}
}

func (t *Table) playerInfo(p *PlayerSession) protocol.PlayerInfo {
	info := protocol.PlayerInfo{
		ID:          p.ID,
		Name:        p.Name,
		IsHost:      p.ID == t.hostID,
		IsReady:     p.Ready,
		IsConnected: p.Connected,
		TimeBankMs:  p.TimeBank.Milliseconds(),
		Points:      p.Points,
		IsBidding:   p.Bidding(),
		Released:    p.Released,
	}
	if p.Released {
		info.CurrentBidMs = p.BidDuration.Milliseconds()
	}
	return info
}

func (t *Table) playerInfos() []protocol.PlayerInfo {
	infos := make([]protocol.PlayerInfo, 0, len(t.order))
	for _, p := range t.orderedPlayers() {
		infos = append(infos, t.playerInfo(p))
	}
	return infos
}

func (t *Table) lobbyState() protocol.Event {
	return protocol.Event{
		Type: protocol.EventLobbyState,
		Data: protocol.LobbyStatePayload{
			Settings: t.settingsInfo(),
			Players:  t.playerInfos(),
			HostID:   t.hostID,
		},
	}
}

// gameState builds the full snapshot sent on join and reconnect; a client
// that missed broadcasts is made whole by this alone.
func (t *Table) gameState() protocol.Event {
	payload := protocol.GameStatePayload{
		Status:      string(t.status),
		Round:       t.round,
		TotalRounds: t.settings.TotalRounds,
		Phase:       string(t.phase),
		PhaseEndsAt: protocol.Millis(t.phaseEndsAt),
		ServerTime:  protocol.Millis(t.clock.Now()),
		Settings:    t.settingsInfo(),
		Players:     t.playerInfos(),
		HostID:      t.hostID,
	}
	for _, r := range t.results {
		payload.CompletedRounds = append(payload.CompletedRounds, roundResultInfo(r))
	}
	return protocol.Event{Type: protocol.EventGameState, Data: payload}
}

func roundResultInfo(r RoundResult) protocol.RoundResultInfo {
	info := protocol.RoundResultInfo{
		Round:        r.Round,
		WinnerID:     r.WinnerID,
		WinnerName:   r.WinnerName,
		WinningBidMs: r.WinningBid.Milliseconds(),
		Tie:          r.Tie,
	}
	for _, e := range r.Entries {
		info.Entries = append(info.Entries, protocol.RoundEntryInfo{
			PlayerID:     e.PlayerID,
			Name:         e.Name,
			BidMs:        e.Bid.Milliseconds(),
			Participated: e.Participated,
		})
	}
	return info
}

func standingInfos(standings []FinalStanding) []protocol.StandingInfo {
	out := make([]protocol.StandingInfo, 0, len(standings))
	for _, s := range standings {
		out = append(out, protocol.StandingInfo{
			Rank:         s.Rank,
			PlayerID:     s.PlayerID,
			Name:         s.Name,
			Points:       s.Points,
			TimeBankMs:   s.TimeBank.Milliseconds(),
			LastWinRound: s.LastWinRound,
		})
	}
	return out
}
