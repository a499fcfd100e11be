// Package feed mirrors table broadcasts onto a NATS JetStream stream so
// external consumers (spectator services, analytics) can follow games
// without attaching a websocket. The mirror is strictly best-effort: game
// logic never blocks on it or fails because of it.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/holdfast-game/holdfast/internal/protocol"
)

// Config holds JetStream connection and stream settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	PublishWait   time.Duration
}

// DefaultConfig returns the stream defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "TABLE_EVENTS",
		SubjectPrefix: "holdfast.tables",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
		PublishWait:   2 * time.Second,
	}
}

// Publisher pushes table events to JetStream. Publishing happens on a
// background goroutine fed through a buffered channel; a full buffer drops
// the event rather than blocking a table actor.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config

	events chan pending
	done   chan struct{}
}

type pending struct {
	tableID string
	event   protocol.Event
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{
		nc:     nc,
		js:     js,
		config: cfg,
		events: make(chan pending, 1024),
		done:   make(chan struct{}),
	}
	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	go p.drain()
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Holdfast table event mirror",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}
	if _, err := p.js.Stream(ctx, p.config.StreamName); err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// Publish mirrors one broadcast event. It never blocks; a full buffer or
// NATS outage drops the event with a log line.
func (p *Publisher) Publish(tableID string, ev protocol.Event) {
	select {
	case p.events <- pending{tableID: tableID, event: ev}:
	default:
		log.Warn().Str("table_id", tableID).Str("event", string(ev.Type)).Msg("feed buffer full, dropping event")
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case <-p.done:
			return
		case item := <-p.events:
			p.publish(item.tableID, item.event)
		}
	}
}

func (p *Publisher) publish(tableID string, ev protocol.Event) {
	eventID := uuid.New().String()
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, ev.Type)

	env := map[string]any{
		"eventId":   eventID,
		"eventType": ev.Type,
		"tableId":   tableID,
		"timestamp": time.Now().UTC(),
		"payload":   ev.Data,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev.Type)).Msg("marshal feed event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishWait)
	defer cancel()
	_, err = p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Table-ID":   []string{tableID},
		},
	},
		jetstream.WithMsgID(eventID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish feed event")
	}
}

// Close stops the background publisher and drops the NATS connection.
func (p *Publisher) Close() {
	close(p.done)
	if p.nc != nil {
		p.nc.Close()
	}
}
