// Package session owns mutable conversation state. All writes to a session
// go through AppendAndSave, which serializes mutation per session id so the
// append-only message log cannot lose updates regardless of which channel
// (HTTP or websocket) originated the call.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenline/haven/backend/internal/model/chat"
	"github.com/havenline/haven/backend/internal/model/resource"
	"github.com/havenline/haven/backend/internal/storage"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrForbidden   = errors.New("session belongs to another user")
	ErrClosed      = errors.New("session is closed")
	ErrPersistence = errors.New("session persistence failure")
)

const docPrefix = "session/"

// Service implements the session store on top of a document store.
type Service struct {
	docs          storage.Store
	defaultLocale string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wraps the supplied document store. defaultLocale is assigned
// to sessions created without one; empty falls through to the catalog
// default.
func NewService(docs storage.Store, defaultLocale string) *Service {
	return &Service{
		docs:          docs,
		defaultLocale: defaultLocale,
		locks:         make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutation of one session.
func (s *Service) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// Create provisions a new active session owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, locale string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, ErrForbidden
	}
	if strings.TrimSpace(locale) == "" {
		locale = s.defaultLocale
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:     uuid.NewString(),
		UserID: ownerID,
		Title:  chat.DefaultTitle,
		State:  chat.StateActive,
		Context: chat.Context{
			Locale: resource.NormalizeLocale(locale),
		},
		Messages:  make([]chat.Message, 0, 16),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.save(ctx, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// Load fetches a session and enforces ownership: a mismatch is Forbidden,
// never a silent substitute.
func (s *Service) Load(ctx context.Context, sessionID, ownerID string) (chat.Session, error) {
	session, err := s.read(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if session.UserID != ownerID {
		return chat.Session{}, ErrForbidden
	}
	return session.Clone(), nil
}

// AppendAndSave runs mutate against the current session under the
// per-session lock and persists the result. The mutator receives a copy;
// errors it returns pass through unwrapped. Shrinking the message log is
// rejected: the log is append-only.
func (s *Service) AppendAndSave(ctx context.Context, sessionID, ownerID string, mutate func(chat.Session) (chat.Session, error)) (chat.Session, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.read(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if current.UserID != ownerID {
		return chat.Session{}, ErrForbidden
	}
	if current.State != chat.StateActive {
		return chat.Session{}, ErrClosed
	}

	next, err := mutate(current.Clone())
	if err != nil {
		return chat.Session{}, err
	}

	if len(next.Messages) < len(current.Messages) {
		return chat.Session{}, fmt.Errorf("%w: mutation shrank message log from %d to %d",
			ErrPersistence, len(current.Messages), len(next.Messages))
	}
	next.ID = current.ID
	next.UserID = current.UserID
	next.UpdatedAt = time.Now().UTC()

	if err := s.save(ctx, next); err != nil {
		return chat.Session{}, err
	}
	return next.Clone(), nil
}

// Close soft-deletes a session; the transcript stays readable.
func (s *Service) Close(ctx context.Context, sessionID, ownerID string) (chat.Session, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.read(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if current.UserID != ownerID {
		return chat.Session{}, ErrForbidden
	}
	if current.State == chat.StateClosed {
		return current.Clone(), nil
	}

	current.State = chat.StateClosed
	current.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, current); err != nil {
		return chat.Session{}, err
	}
	return current.Clone(), nil
}

// Transcript returns a copy of the message log for reconnecting clients.
func (s *Service) Transcript(ctx context.Context, sessionID, ownerID string) ([]chat.Message, error) {
	session, err := s.Load(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

func (s *Service) read(ctx context.Context, sessionID string) (chat.Session, error) {
	data, err := s.docs.Get(ctx, docPrefix+sessionID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return chat.Session{}, fmt.Errorf("%w: decode session %s: %v", ErrPersistence, sessionID, err)
	}
	return session, nil
}

func (s *Service) save(ctx context.Context, session chat.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: encode session %s: %v", ErrPersistence, session.ID, err)
	}
	if err := s.docs.Put(ctx, docPrefix+session.ID, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
