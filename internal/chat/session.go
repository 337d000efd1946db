package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rexpro/internal/llm"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTitle names a chat until its first prompt.
const DefaultTitle = "New Chat"

const titleLimit = 40

var (
	ErrNotFound   = errors.New("chat not found")
	ErrOutOfRange = errors.New("index out of range")
)

// ==================== Session ====================

// Message is one turn as shown in the chat window. Reasoning holds text the
// model produced inside <thinking> tags; IsThinking is set while a reply is
// still streaming with thinking active.
type Message struct {
	Role        llm.Role         `json:"role"`
	Content     string           `json:"content"`
	Attachments []llm.Attachment `json:"attachments,omitempty"`
	Reasoning   string           `json:"reasoning,omitempty"`
	IsThinking  bool             `json:"is_thinking,omitempty"`
	SchemaError string           `json:"schema_error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// TitleFromPrompt derives a chat title from its first prompt.
func TitleFromPrompt(prompt string) string {
	r := []rune(prompt)
	if len(r) <= titleLimit {
		return prompt
	}
	return string(r[:titleLimit]) + "..."
}

// ==================== Store ====================

// Store persists chat sessions and the active chat id.
type Store struct {
	mu           sync.RWMutex
	sessions     []Session
	activeID     string
	sessionsPath string // e.g. "data/sessions.json"
	activePath   string // e.g. "data/active.json"
}

// NewStore loads existing sessions from dataDir. The active id is repaired
// to point at an existing chat, and a first chat is created when none exist.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &Store{
		sessionsPath: filepath.Join(dataDir, "sessions.json"),
		activePath:   filepath.Join(dataDir, "active.json"),
	}

	if data, err := os.ReadFile(s.sessionsPath); err == nil {
		if err := json.Unmarshal(data, &s.sessions); err != nil {
			logrus.WithError(err).WithField("path", s.sessionsPath).Warn("could not parse chat history")
		}
	}
	if data, err := os.ReadFile(s.activePath); err == nil {
		_ = json.Unmarshal(data, &s.activeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(s.sessions) == 0:
		if _, err := s.createLocked(); err != nil {
			return nil, err
		}
	case s.indexLocked(s.activeID) < 0:
		s.activeID = s.sessions[0].ID
		if err := s.saveActive(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.sessionsPath, data)
}

func (s *Store) saveActive() error {
	if s.activeID == "" {
		err := os.Remove(s.activePath)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	data, err := json.Marshal(s.activeID)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.activePath, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// ==================== Session CRUD ====================

// Create starts an empty chat at the top of the list and makes it active.
func (s *Store) Create() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() (*Session, error) {
	session := Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: time.Now(),
	}
	s.sessions = append([]Session{session}, s.sessions...)
	s.activeID = session.ID
	if err := s.save(); err != nil {
		return nil, err
	}
	if err := s.saveActive(); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Session, len(s.sessions))
	copy(result, s.sessions)
	return result
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	session := cloneSession(s.sessions[i])
	return &session, nil
}

// Delete removes a chat. Deleting the active chat activates the first
// remaining one, or none.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	if err := s.save(); err != nil {
		return err
	}
	if s.activeID != id {
		return nil
	}
	s.activeID = ""
	if len(s.sessions) > 0 {
		s.activeID = s.sessions[0].ID
	}
	return s.saveActive()
}

func (s *Store) Rename(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sessions[i].Title = title
	return s.save()
}

// Active returns the active chat id, or "" when there is none.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.activeID = id
	return s.saveActive()
}

// ==================== Messages ====================

// AppendMessages adds messages to a chat. The first user message of an empty
// chat also sets its title. It returns the index of the first appended
// message.
func (s *Store) AppendMessages(id string, msgs ...Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	session := &s.sessions[i]
	first := len(session.Messages)
	if first == 0 {
		for _, m := range msgs {
			if m.Role == llm.RoleUser {
				session.Title = TitleFromPrompt(m.Content)
				break
			}
		}
	}
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now()
		}
		session.Messages = append(session.Messages, m)
	}
	return first, s.save()
}

// ReplaceAt overwrites the message at index msgIndex, keeping its timestamp
// when msg has none.
func (s *Store) ReplaceAt(id string, msgIndex int, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	msgs := s.sessions[i].Messages
	if msgIndex < 0 || msgIndex >= len(msgs) {
		return fmt.Errorf("%w: message %d", ErrOutOfRange, msgIndex)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = msgs[msgIndex].Timestamp
	}
	msgs[msgIndex] = msg
	return s.save()
}

// DeleteAttachment removes one attachment from a message.
func (s *Store) DeleteAttachment(id string, msgIndex, attIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	msgs := s.sessions[i].Messages
	if msgIndex < 0 || msgIndex >= len(msgs) {
		return fmt.Errorf("%w: message %d", ErrOutOfRange, msgIndex)
	}
	atts := msgs[msgIndex].Attachments
	if attIndex < 0 || attIndex >= len(atts) {
		return fmt.Errorf("%w: attachment %d", ErrOutOfRange, attIndex)
	}
	updated := make([]llm.Attachment, 0, len(atts)-1)
	updated = append(updated, atts[:attIndex]...)
	updated = append(updated, atts[attIndex+1:]...)
	msgs[msgIndex].Attachments = updated
	return s.save()
}

func cloneSession(src Session) Session {
	dst := src
	dst.Messages = make([]Message, len(src.Messages))
	copy(dst.Messages, src.Messages)
	return dst
}
