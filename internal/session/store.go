// ABOUTME: In-memory session store with idle expiry and per-user locking
// ABOUTME: Sessions inactive past the TTL are never returned and are swept in the background

package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Default store settings.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultLockWait      = 5 * time.Second
)

// Options configures a Store. Zero values get defaults.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	// LockWait bounds how long Lock waits for a busy user.
	LockWait time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// Store maps user identifiers to sessions. All methods are safe for
// concurrent use. Callers that read-modify-write a session hold Lock for
// that user for the whole step.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    *keyLocks

	ttl           time.Duration
	sweepInterval time.Duration
	lockWait      time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		locks:         newKeyLocks(),
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		lockWait:      opts.LockWait,
		now:           opts.Now,
		logger:        opts.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = DefaultSweepInterval
	}
	if s.lockWait <= 0 {
		s.lockWait = DefaultLockWait
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sessions")
	return s
}

// TTL returns the idle timeout.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastActivity) > s.ttl
}

// Lock acquires the per-user lock, waiting at most LockWait or until ctx is
// done. Call the returned func to release it.
func (s *Store) Lock(ctx context.Context, userID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	return s.locks.lock(ctx, userID)
}

// GetOrCreate returns a copy of the user's session, creating a fresh one if
// none exists or the existing one has expired. LastActivity is refreshed.
func (s *Store) GetOrCreate(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[userID]
	if ok && s.expired(sess, now) {
		s.logger.Debug("session expired", "user_id", userID, "idle", now.Sub(sess.LastActivity))
		ok = false
	}
	if !ok {
		sess = New(userID, now)
		s.sessions[userID] = sess
		s.logger.Debug("session created", "user_id", userID)
	}
	sess.LastActivity = now
	return sess.Clone()
}

// Get returns a copy of the user's session if it exists and has not expired.
// It does not refresh LastActivity.
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || s.expired(sess, s.now()) {
		return nil, false
	}
	return sess.Clone(), true
}

// Update applies fn to the stored session and refreshes LastActivity. It is
// a no-op returning false when the session does not exist or has expired.
func (s *Store) Update(userID string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[userID]
	if !ok || s.expired(sess, now) {
		return false
	}
	fn(sess)
	sess.UserID = userID
	sess.LastActivity = now
	return true
}

// Save replaces the stored session with a copy of next. Like Update it does
// nothing if the session is gone.
func (s *Store) Save(next *Session) bool {
	cp := next.Clone()
	return s.Update(next.UserID, func(cur *Session) {
		*cur = *cp
	})
}

// Remove deletes the user's session.
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Clear removes every session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

// SweepExpired evicts every expired session and returns how many were removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, sess := range s.sessions {
		if !s.expired(sess, now) {
			n++
		}
	}
	return n
}

// Snapshot returns the sanitized view of every live session keyed by user.
func (s *Store) Snapshot() map[string]View {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]View, len(s.sessions))
	for id, sess := range s.sessions {
		if !s.expired(sess, now) {
			out[id] = sess.Sanitize()
		}
	}
	return out
}

// UserIDs returns the live user identifiers in sorted order.
func (s *Store) UserIDs() []string {
	snap := s.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run sweeps expired sessions every SweepInterval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				s.logger.Info("swept expired sessions", "count", n)
			}
		}
	}
}
