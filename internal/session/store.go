package session

import (
	"log/slog"
	"sync"
	"time"
)

// Store maps stream ids to live sessions with get-or-create semantics.
// It owns session existence and removal; in-session state belongs to the
// pipeline.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger

	maxSessions int
	queueDepth  int
}

// NewStore creates a session store with the given admission limits.
func NewStore(logger *slog.Logger, maxSessions, queueDepth int) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		logger:      logger,
		maxSessions: maxSessions,
		queueDepth:  queueDepth,
	}
}

// GetOrCreate returns the existing session for streamID, refreshing its
// activity timestamp, or registers a new one. Creation fails only when the
// global session cap is reached.
func (st *Store) GetOrCreate(streamID string, hints Hints) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, ok := st.sessions[streamID]; ok {
		existing.Touch()
		return existing, nil
	}

	if len(st.sessions) >= st.maxSessions {
		return nil, ErrTooManySessions
	}

	s := newSession(streamID, hints, st.queueDepth)
	st.sessions[streamID] = s

	st.logger.Info("Session created",
		slog.String("stream_id", streamID),
		slog.String("call_id", hints.CallID),
		slog.String("language", hints.Language),
		slog.Int("active_sessions", len(st.sessions)),
	)

	return s, nil
}

// Get returns the session for streamID, if present.
func (st *Store) Get(streamID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[streamID]
	return s, ok
}

// Remove detaches and discards the session for streamID. It does not wait for
// the session's queue; callers close the session first. No-op if absent. The
// return reports whether this call deleted the session, so racing removers
// can decide a single winner.
func (st *Store) Remove(streamID string) bool {
	st.mu.Lock()
	s, ok := st.sessions[streamID]
	if ok {
		delete(st.sessions, streamID)
	}
	st.mu.Unlock()

	if ok {
		st.logger.Info("Session removed",
			slog.String("stream_id", streamID),
			slog.Duration("duration", time.Since(s.CreatedAt)),
			slog.Int("turns", len(s.History())),
		)
	}
	return ok
}

// List returns a snapshot of all current sessions for diagnostics.
func (st *Store) List() []Info {
	st.mu.RLock()
	defer st.mu.RUnlock()

	infos := make([]Info, 0, len(st.sessions))
	for _, s := range st.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Count returns the number of registered sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Stale returns the stream ids of sessions idle longer than timeout.
func (st *Store) Stale(timeout time.Duration) []string {
	now := time.Now()

	st.mu.RLock()
	defer st.mu.RUnlock()

	var stale []string
	for id, s := range st.sessions {
		if now.Sub(s.LastActivity()) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}
