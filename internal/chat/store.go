// Package chat holds the in-memory chat sessions. A session is the single
// source of truth for a conversation: an append-only message log plus the
// agent selection, chat mode and send state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

var (
	// ErrSessionNotFound is returned for a key that was never opened.
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrStaleEpoch is returned when appending with an epoch that a reset
	// has already retired.
	ErrStaleEpoch = errors.New("chat session was reset")
	// ErrSendInProgress is returned when a send is already outstanding.
	ErrSendInProgress = errors.New("send already in progress")
)

// State is the send state of a session.
type State string

const (
	// StateIdle accepts a new send.
	StateIdle State = "idle"
	// StateSending has one request outstanding.
	StateSending State = "sending"
)

// Key identifies a session.
type Key struct {
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.SessionID
}

// Session is a snapshot of a chat session. Slices are copies.
type Session struct {
	Key            Key
	Messages       []domain.Message
	SelectedAgents []string
	Mode           domain.ChatMode
	State          State
	Epoch          uint64
	CreatedAt      time.Time
}

// Turn is an accepted send. Ctx is cancelled when the session is reset.
type Turn struct {
	Ctx            context.Context
	Epoch          uint64
	SelectedAgents []string
	Mode           domain.ChatMode
}

// AppendHook observes every appended message, in append order.
type AppendHook func(key Key, msg domain.Message)

type session struct {
	messages  []domain.Message
	agents    []string
	mode      domain.ChatMode
	state     State
	epoch     uint64
	createdAt time.Time
	cancel    context.CancelFunc
}

// Store keeps sessions keyed by user and session id.
type Store struct {
	mu       sync.Mutex
	sessions map[Key]*session

	// notifyMu keeps hooks in append order without holding mu while they run.
	notifyMu sync.Mutex
	hooks    []AppendHook
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[Key]*session)}
}

// OnAppend registers a hook. Hooks must not append to the store.
func (s *Store) OnAppend(hook AppendHook) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Open returns the session for key, creating it in individual mode with no
// agents selected.
func (s *Store) Open(key Key) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(key).snapshot(key)
}

func (s *Store) openLocked(key Key) *session {
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{
			mode:      domain.ModeIndividual,
			state:     StateIdle,
			createdAt: time.Now().UTC(),
		}
		s.sessions[key] = sess
	}
	return sess
}

// Get returns a snapshot of an existing session.
func (s *Store) Get(key Key) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, fmt.Errorf("get %s: %w", key, ErrSessionNotFound)
	}
	return sess.snapshot(key), nil
}

// Messages returns a copy of the session's messages.
func (s *Store) Messages(key Key) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	return slices.Clone(sess.messages)
}

// Recent returns up to n of the latest messages, oldest first.
func (s *Store) Recent(key Key, n int) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok || n <= 0 {
		return nil
	}
	from := max(len(sess.messages)-n, 0)
	return slices.Clone(sess.messages[from:])
}

// Append adds msgs to the session if epoch is still current. Messages are
// appended together or not at all.
func (s *Store) Append(key Key, epoch uint64, msgs ...domain.Message) error {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("append %s: %w", key, ErrSessionNotFound)
	}
	if sess.epoch != epoch {
		s.mu.Unlock()
		return fmt.Errorf("append %s: %w", key, ErrStaleEpoch)
	}
	sess.messages = append(sess.messages, msgs...)

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, m := range msgs {
		for _, hook := range s.hooks {
			hook(key, m)
		}
	}
	return nil
}

// Reset clears the messages, retires the current epoch and cancels any
// outstanding send. The agent selection and mode are kept.
func (s *Store) Reset(key Key) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return 0, fmt.Errorf("reset %s: %w", key, ErrSessionNotFound)
	}
	if sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}
	sess.messages = nil
	sess.state = StateIdle
	sess.epoch++
	return sess.epoch, nil
}

// Delete ends a session.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok && sess.cancel != nil {
		sess.cancel()
	}
	delete(s.sessions, key)
}

// SetAgents replaces the agent selection. Duplicates and empty ids are
// dropped; order is kept.
func (s *Store) SetAgents(key Key, ids []string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, fmt.Errorf("set agents %s: %w", key, ErrSessionNotFound)
	}
	seen := make(map[string]bool, len(ids))
	agents := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		agents = append(agents, id)
	}
	sess.agents = agents
	return sess.snapshot(key), nil
}

// SetMode changes the chat mode.
func (s *Store) SetMode(key Key, mode domain.ChatMode) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, fmt.Errorf("set mode %s: %w", key, ErrSessionNotFound)
	}
	sess.mode = mode
	return sess.snapshot(key), nil
}

// BeginSend moves the session to Sending. The returned Turn carries a
// context derived from ctx that Reset cancels.
func (s *Store) BeginSend(ctx context.Context, key Key) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Turn{}, fmt.Errorf("begin send %s: %w", key, ErrSessionNotFound)
	}
	if sess.state == StateSending {
		return Turn{}, ErrSendInProgress
	}
	turnCtx, cancel := context.WithCancel(ctx)
	sess.state = StateSending
	sess.cancel = cancel
	return Turn{
		Ctx:            turnCtx,
		Epoch:          sess.epoch,
		SelectedAgents: slices.Clone(sess.agents),
		Mode:           sess.mode,
	}, nil
}

// EndSend returns the session to Idle. It is a no-op when the turn's epoch
// was retired by a reset, since the session may already carry a newer turn.
func (s *Store) EndSend(key Key, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok || sess.epoch != turn.Epoch {
		return
	}
	if sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}
	sess.state = StateIdle
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (sess *session) snapshot(key Key) Session {
	return Session{
		Key:            key,
		Messages:       slices.Clone(sess.messages),
		SelectedAgents: slices.Clone(sess.agents),
		Mode:           sess.mode,
		State:          sess.state,
		Epoch:          sess.epoch,
		CreatedAt:      sess.createdAt,
	}
}
