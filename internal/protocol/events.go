package protocol

import (
	"encoding/json"
	"time"
)

// EventType identifies a server-to-client event.
type EventType string

const (
	EventWelcome            EventType = "welcome"
	EventError              EventType = "error"
	EventLobbyState         EventType = "lobbyState"
	EventPlayerJoined       EventType = "playerJoined"
	EventPlayerLeft         EventType = "playerLeft"
	EventPlayerReady        EventType = "playerReady"
	EventPlayerKicked       EventType = "playerKicked"
	EventGameStarting       EventType = "gameStarting"
	EventGameState          EventType = "gameState"
	EventRoundStart         EventType = "roundStart"
	EventRoundActive        EventType = "roundActive"
	EventGraceExpired       EventType = "graceExpired"
	EventBidUpdate          EventType = "bidUpdate"
	EventRoundEnd           EventType = "roundEnd"
	EventGameEnd            EventType = "gameEnd"
	EventPlayerDisconnected EventType = "playerDisconnected"
	EventPlayerReconnected  EventType = "playerReconnected"
	EventPong               EventType = "pong"
)

// Event is the wire envelope for every server-to-client message.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Marshal renders the event as a websocket frame.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Millis converts a server timestamp to the unix-millisecond form used on
// the wire. The server is the sole source of gameplay timestamps.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// SettingsInfo describes the immutable table settings shown to clients.
type SettingsInfo struct {
	Name             string `json:"name"`
	StartingTimeMs   int64  `json:"startingTimeMs"`
	TotalRounds      int    `json:"totalRounds"`
	MaxPlayers       int    `json:"maxPlayers"`
	GracePeriodMs    int64  `json:"gracePeriodMs"`
	PasswordRequired bool   `json:"passwordRequired"`
}

// PlayerInfo is the per-player view embedded in lobby and game snapshots.
type PlayerInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsHost       bool   `json:"isHost"`
	IsReady      bool   `json:"isReady"`
	IsConnected  bool   `json:"isConnected"`
	TimeBankMs   int64  `json:"timeBankMs"`
	Points       int    `json:"points"`
	IsBidding    bool   `json:"isBidding"`
	Released     bool   `json:"released"`
	CurrentBidMs int64  `json:"currentBidMs"`
}

// RoundEntryInfo is one player's participation in a completed round.
type RoundEntryInfo struct {
	PlayerID     string `json:"playerId"`
	Name         string `json:"name"`
	BidMs        int64  `json:"bidMs"`
	Participated bool   `json:"participated"`
}

// RoundResultInfo summarizes a completed round for clients.
type RoundResultInfo struct {
	Round        int              `json:"round"`
	WinnerID     string           `json:"winnerId,omitempty"`
	WinnerName   string           `json:"winnerName,omitempty"`
	WinningBidMs int64            `json:"winningBidMs"`
	Tie          bool             `json:"tie"`
	Entries      []RoundEntryInfo `json:"entries"`
}

// StandingInfo is one row of the end-of-game ranking.
type StandingInfo struct {
	Rank         int    `json:"rank"`
	PlayerID     string `json:"playerId"`
	Name         string `json:"name"`
	Points       int    `json:"points"`
	TimeBankMs   int64  `json:"timeBankMs"`
	LastWinRound int    `json:"lastWinRound,omitempty"`
}

type WelcomePayload struct {
	PlayerID       string `json:"playerId"`
	ReconnectToken string `json:"reconnectToken"`
	ServerTime     int64  `json:"serverTime"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LobbyStatePayload struct {
	Settings SettingsInfo `json:"settings"`
	Players  []PlayerInfo `json:"players"`
	HostID   string       `json:"hostId,omitempty"`
}

type PlayerJoinedPayload struct {
	Player PlayerInfo `json:"player"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

type PlayerReadyPayload struct {
	PlayerID string `json:"playerId"`
	IsReady  bool   `json:"isReady"`
}

type PlayerKickedPayload struct {
	PlayerID string `json:"playerId"`
}

type GameStartingPayload struct {
	CountdownMs int64 `json:"countdownMs"`
}

// GameStatePayload is the full snapshot sent on join and reconnect. A
// missed broadcast is implicitly superseded by the next one of these.
type GameStatePayload struct {
	Status           string            `json:"status"`
	Round            int               `json:"round"`
	TotalRounds      int               `json:"totalRounds"`
	Phase            string            `json:"phase,omitempty"`
	PhaseEndsAt      int64             `json:"phaseEndsAt,omitempty"`
	ServerTime       int64             `json:"serverTime"`
	Settings         SettingsInfo      `json:"settings"`
	Players          []PlayerInfo      `json:"players"`
	HostID           string            `json:"hostId,omitempty"`
	CompletedRounds  []RoundResultInfo `json:"completedRounds,omitempty"`
}

type RoundStartPayload struct {
	Round       int   `json:"round"`
	TotalRounds int   `json:"totalRounds"`
	StartsAt    int64 `json:"startsAt"`
}

type RoundActivePayload struct {
	GracePeriodEndsAt int64 `json:"gracePeriodEndsAt"`
}

type BidUpdatePayload struct {
	PlayerID     string `json:"playerId"`
	IsBidding    bool   `json:"isBidding"`
	CurrentBidMs int64  `json:"currentBidMs"`
}

type RoundEndPayload struct {
	Results       RoundResultInfo `json:"results"`
	NextRoundInMs int64           `json:"nextRoundInMs"`
}

type GameEndPayload struct {
	Standings []StandingInfo `json:"standings"`
}

type PlayerDisconnectedPayload struct {
	PlayerID          string `json:"playerId"`
	ReconnectDeadline int64  `json:"reconnectDeadline"`
}

type PlayerReconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

type PongPayload struct {
	ServerTime int64 `json:"serverTime"`
}

// NewError builds the error event replied to a rejected action. Errors are
// sent to the originating connection only, never broadcast.
func NewError(code, message string) Event {
	return Event{Type: EventError, Data: ErrorPayload{Code: code, Message: message}}
}

// NewPong answers a client ping with the authoritative server clock.
func NewPong(now time.Time) Event {
	return Event{Type: EventPong, Data: PongPayload{ServerTime: Millis(now)}}
}
