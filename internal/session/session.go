package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrSessionNotFound is returned for operations on an unknown stream id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned when work is submitted after teardown began.
	ErrSessionInactive = errors.New("session is no longer active")
	// ErrQueueFull is returned when a session's frame queue is at capacity.
	ErrQueueFull = errors.New("session queue is full")
	// ErrTooManySessions is returned when the global session cap is reached.
	ErrTooManySessions = errors.New("maximum concurrent sessions reached")
)

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one attributed utterance in a session's history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Hints carries optional metadata attached to a stream start event.
type Hints struct {
	CallID      string
	Language    string
	CallerName  string
	PhoneNumber string
}

// Session is the live-call record for one media stream. All processing work
// for the stream runs on its single worker goroutine, which drains the task
// queue strictly in submission order.
type Session struct {
	StreamID    string
	CallID      string
	Language    string
	CallerName  string
	PhoneNumber string
	CreatedAt   time.Time

	mu             sync.Mutex
	lastActivity   time.Time
	history        []Turn
	conversationID string
	fallbackSent   bool
	active         bool

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(streamID string, hints Hints, queueDepth int) *Session {
	now := time.Now()
	s := &Session{
		StreamID:     streamID,
		CallID:       hints.CallID,
		Language:     hints.Language,
		CallerName:   hints.CallerName,
		PhoneNumber:  hints.PhoneNumber,
		CreatedAt:    now,
		lastActivity: now,
		active:       true,
		queue:        make(chan func(), queueDepth),
		done:         make(chan struct{}),
	}

	go s.run()

	return s
}

// run is the session's single worker. It exits when the queue is closed.
func (s *Session) run() {
	defer close(s.done)
	for task := range s.queue {
		task()
	}
}

// Enqueue appends work to the session's ordered task queue. It fails when the
// session is inactive or the queue is at capacity; it never blocks.
func (s *Session) Enqueue(task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSessionInactive
	}

	select {
	case s.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close marks the session inactive, rejects further work, and waits for the
// in-flight chain to drain. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}

// Active reports whether the session still accepts work.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Touch refreshes the session's last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the session's most recent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AppendTurn appends one utterance to the session history.
func (s *Session) AppendTurn(role Role, text string) {
	s.mu.Lock()
	s.history = append(s.history, Turn{Role: role, Text: text})
	s.mu.Unlock()
}

// History returns a copy of the session's ordered turn history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Turn, len(s.history))
	copy(history, s.history)
	return history
}

// ConversationID returns the remote conversation handle, if established.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetConversationID records the remote conversation handle.
func (s *Session) SetConversationID(id string) {
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

// MarkFallbackSent latches the fallback flag. It returns true only on the
// transition from false to true, so exactly one caller wins.
func (s *Session) MarkFallbackSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fallbackSent {
		return false
	}
	s.fallbackSent = true
	return true
}

// FallbackSent reports whether the degraded reply was already spoken.
func (s *Session) FallbackSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackSent
}

// Info is a point-in-time session snapshot for monitoring and APIs.
type Info struct {
	StreamID       string    `json:"stream_id"`
	CallID         string    `json:"call_id,omitempty"`
	Language       string    `json:"language,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	Turns          int       `json:"turns"`
	ConversationID string    `json:"conversation_id,omitempty"`
	FallbackSent   bool      `json:"fallback_sent"`
	Active         bool      `json:"active"`
	QueuedFrames   int       `json:"queued_frames"`
}

// Info returns a snapshot of the session state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		StreamID:       s.StreamID,
		CallID:         s.CallID,
		Language:       s.Language,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
		Turns:          len(s.history),
		ConversationID: s.conversationID,
		FallbackSent:   s.fallbackSent,
		Active:         s.active,
		QueuedFrames:   len(s.queue),
	}
}
