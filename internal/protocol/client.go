package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is the closed set of messages a client may send over the
// realtime session. Decode is the only constructor; adding a message kind
// means adding a struct here and a case there, checked at compile time by
// the exhaustive switch in the table actor.
type ClientMessage interface {
	isClientMessage()
}

// Join authenticates a connection, either as a fresh player or by
// presenting a reconnect token for an existing session.
type Join struct {
	Name           string `json:"name"`
	Password       string `json:"password,omitempty"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
}

// Ready toggles the sender's lobby ready flag.
type Ready struct {
	IsReady bool `json:"isReady"`
}

// StartGame asks the coordinator to leave the lobby. Host only.
type StartGame struct{}

// BidStart reports that the sender began holding the bid control.
// ClientTimestamp is the client's clock in unix milliseconds; the server
// only uses it for bounded latency compensation.
type BidStart struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// BidEnd reports that the sender released the bid control.
type BidEnd struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// Kick removes another player from the table. Host only.
type Kick struct {
	PlayerID string `json:"playerId"`
}

// Ping requests a Pong carrying the server clock.
type Ping struct{}

// Leave abandons the table voluntarily.
type Leave struct{}

func (Join) isClientMessage()      {}
func (Ready) isClientMessage()     {}
func (StartGame) isClientMessage() {}
func (BidStart) isClientMessage()  {}
func (BidEnd) isClientMessage()    {}
func (Kick) isClientMessage()      {}
func (Ping) isClientMessage()      {}
func (Leave) isClientMessage()     {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw websocket frame into a typed client message.
// Unknown types and malformed payloads return an error; the caller maps
// that to an InvalidAction reply.
func Decode(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		msg ClientMessage
		err error
	)
	switch env.Type {
	case "join":
		var m Join
		err = unmarshalData(env.Data, &m)
		msg = m
	case "ready":
		var m Ready
		err = unmarshalData(env.Data, &m)
		msg = m
	case "startGame":
		msg = StartGame{}
	case "bidStart":
		var m BidStart
		err = unmarshalData(env.Data, &m)
		msg = m
	case "bidEnd":
		var m BidEnd
		err = unmarshalData(env.Data, &m)
		msg = m
	case "kick":
		var m Kick
		err = unmarshalData(env.Data, &m)
		msg = m
	case "ping":
		msg = Ping{}
	case "leave":
		msg = Leave{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
