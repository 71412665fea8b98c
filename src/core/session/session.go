package session

import (
	"context"
	"fmt"
	"sync"

	"docpilot/src/storage/postgres/sessionctrl"
)

// HistoryLimit is the number of most recent turns fed back into routing and
// answering. Older turns stay persisted but no longer shape responses.
const HistoryLimit = 20

type Store interface {
	GetOrCreate(ctx context.Context, sessionID string) (*sessionctrl.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn sessionctrl.Turn) (*sessionctrl.Turn, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]sessionctrl.Turn, error)
}

// Manager serializes the turns of a single session while letting distinct
// sessions proceed concurrently.
type Manager struct {
	store Store

	// locks entries live for the life of the process; session expiry is
	// owned by whoever prunes the session table, not by this map.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		locks: map[string]*sync.Mutex{},
	}
}

// Acquire takes the per-session lock and returns its release function. An
// unknown id resolves to a fresh session first, so the returned id is always
// the one the lock covers.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (string, func(), error) {
	session, err := m.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	m.mu.Lock()
	lock, ok := m.locks[session.ID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[session.ID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return session.ID, lock.Unlock, nil
}

// History returns the most recent turns in chronological order.
func (m *Manager) History(ctx context.Context, sessionID string) ([]sessionctrl.Turn, error) {
	turns, err := m.store.ListTurns(ctx, sessionID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	return turns, nil
}

// Append records a completed turn at the next sequence number. Callers hold
// the session lock, so sequence numbers never collide.
func (m *Manager) Append(ctx context.Context, sessionID string, turn sessionctrl.Turn) (*sessionctrl.Turn, error) {
	saved, err := m.store.AppendTurn(ctx, sessionID, turn)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	return saved, nil
}
