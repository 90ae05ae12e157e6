// ABOUTME: Mock Ledger implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Ledger implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	exchanges []*Exchange
	commits   []*AttendanceCommit

	// AppendErr, when set, fails every append.
	AppendErr error
}

var _ Ledger = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// AppendExchange stores a copy of e.
func (m *MockStore) AppendExchange(ctx context.Context, e *Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	m.exchanges = append(m.exchanges, &cp)
	return nil
}

// GetExchange returns a stored exchange by ID.
func (m *MockStore) GetExchange(ctx context.Context, id string) (*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.exchanges {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListExchanges returns matching exchanges newest first.
func (m *MockStore) ListExchanges(ctx context.Context, f ExchangeFilter) ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Exchange
	for _, e := range m.exchanges {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendAttendanceCommit stores a copy of c.
func (m *MockStore) AppendAttendanceCommit(ctx context.Context, c *AttendanceCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	cp.Marked = append([]string(nil), c.Marked...)
	cp.Failed = append([]string(nil), c.Failed...)
	m.commits = append(m.commits, &cp)
	return nil
}

// ListAttendanceCommits returns the commits for a class session newest first.
func (m *MockStore) ListAttendanceCommits(ctx context.Context, classSessionID string, limit int) ([]*AttendanceCommit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*AttendanceCommit
	for i := len(m.commits) - 1; i >= 0; i-- {
		if m.commits[i].ClassSessionID == classSessionID {
			cp := *m.commits[i]
			out = append(out, &cp)
		}
	}
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Exchanges returns every stored exchange in insertion order.
func (m *MockStore) Exchanges() []*Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Exchange, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
