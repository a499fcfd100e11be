// Package ws owns the websocket side of the realtime session protocol:
// upgrading, read/write pumps and keepalive. Identity is never attached to
// a connection here; the table actor's registry maps connection ids to
// player sessions.
package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/holdfast-game/holdfast/internal/game"
	"github.com/holdfast-game/holdfast/internal/protocol"
)

// Config holds transport tuning for client connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The shared table password is the access control; origins are
			// not restricted.
			return true
		},
	}
}

// ErrSendBufferFull is returned when a client cannot keep up with
// broadcasts; the connection is closed and the drop is handled as a
// disconnection, never as a game error.
var ErrSendBufferFull = errors.New("send buffer full")

// Table is the actor surface a connection feeds into.
type Table interface {
	Attach(conn game.Sink)
	Detach(connID string)
	Deliver(connID string, raw []byte)
}

// Connection is one attached websocket client.
type Connection struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	cfg  Config

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the opaque connection id used by the session registry.
func (c *Connection) ID() string { return c.id }

// Send queues an event frame without blocking the caller. A full buffer
// closes the connection.
func (c *Connection) Send(ev protocol.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		log.Warn().Str("conn_id", c.id).Msg("closing slow client")
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Close tears the socket down. Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// Upgrader upgrades table websocket requests and wires the pumps to the
// table actor.
type Upgrader struct {
	upgrader websocket.Upgrader
	cfg      Config
}

// NewUpgrader builds an Upgrader with the given transport config.
func NewUpgrader(cfg Config) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg: cfg,
	}
}

// Serve upgrades the request and runs the connection against a table
// until either side goes away.
func (u *Upgrader) Serve(w http.ResponseWriter, r *http.Request, table Table) error {
	sock, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Connection{
		id:   uuid.New().String(),
		conn: sock,
		send: make(chan []byte, 256),
		cfg:  u.cfg,
		done: make(chan struct{}),
	}
	table.Attach(c)

	log.Info().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("websocket connected")

	go c.writePump()
	go c.readPump(table)
	return nil
}

func (c *Connection) readPump(table Table) {
	defer func() {
		table.Detach(c.id)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		table.Deliver(c.id, raw)
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
