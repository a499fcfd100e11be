package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/holdfast-game/holdfast/internal/store"
	"github.com/holdfast-game/holdfast/internal/token"
)

const (
	sweepInterval = 10 * time.Second

	// Finished or abandoned-empty tables linger this long before cleanup.
	finishedTTL = 5 * time.Minute
	idleTTL     = 30 * time.Minute
)

// Manager owns the set of table actors in this process. Tables are fully
// independent; the manager only creates, looks up, sweeps and reaps them.
type Manager struct {
	mu     sync.RWMutex
	tables map[string]*Table

	store store.Store
	clock clockwork.Clock
	feed  EventPublisher
}

// NewManager returns an empty manager.
func NewManager(st store.Store, clock clockwork.Clock, feed EventPublisher) *Manager {
	return &Manager{
		tables: make(map[string]*Table),
		store:  st,
		clock:  clock,
		feed:   feed,
	}
}

// CreateTable spawns a new table actor and returns it along with the host
// secret the creator uses to claim host status on join.
func (m *Manager) CreateTable(settings Settings) (*Table, string) {
	id := uuid.New().String()
	hostSecret := token.New()
	t := NewTable(id, settings, hostSecret, m.store, m.clock, m.feed)

	m.mu.Lock()
	m.tables[id] = t
	m.mu.Unlock()

	go t.Run()
	log.Info().Str("table_id", id).Str("name", settings.Name).Msg("table created")
	return t, hostSecret
}

// Get returns the actor for a table id.
func (m *Manager) Get(id string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// Restore loads every persisted table and respawns its actor before any
// event is handled. All restored sessions come back disconnected.
func (m *Manager) Restore(ctx context.Context) error {
	ids, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list persisted tables: %w", err)
	}
	for _, id := range ids {
		rec, err := m.store.Load(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("table_id", id).Msg("load persisted table")
			continue
		}
		t, err := restore(rec, m.store, m.clock, m.feed)
		if err != nil {
			log.Error().Err(err).Str("table_id", id).Msg("restore table state")
			continue
		}
		m.mu.Lock()
		m.tables[t.id] = t
		m.mu.Unlock()
		go t.Run()
		log.Info().Str("table_id", t.id).Str("status", string(t.status)).Msg("table restored")
	}
	return nil
}

// Run drives the periodic sweep across all tables until the context ends:
// each table runs its own maintenance pass, and tables that are finished
// or long abandoned are stopped and reaped.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return
		case <-ticker.Chan():
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	m.mu.RLock()
	tables := make([]*Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	m.mu.RUnlock()

	now := m.clock.Now()
	for _, t := range tables {
		t.Sweep()
		info := t.Info()
		switch {
		case info.Finished && !info.FinishedAt.IsZero() && now.Sub(info.FinishedAt) > finishedTTL:
			m.reap(ctx, t, info.ID, true)
		case info.Empty && info.Status == StatusLobby && now.Sub(info.CreatedAt) > idleTTL:
			m.reap(ctx, t, info.ID, true)
		}
	}
}

func (m *Manager) reap(ctx context.Context, t *Table, id string, deleteState bool) {
	log.Info().Str("table_id", id).Msg("reaping table")
	t.Stop()
	m.mu.Lock()
	delete(m.tables, id)
	m.mu.Unlock()
	if deleteState {
		if err := m.store.Delete(ctx, id); err != nil {
			log.Error().Err(err).Str("table_id", id).Msg("delete table state")
		}
	}
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tables {
		t.Stop()
		delete(m.tables, id)
	}
}
