package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrSessionNotFound is returned when no snapshot was saved for a session.
var ErrSessionNotFound = errors.New("session not found")

// SessionMeta is the human-editable description of a saved session,
// stored as session.yaml.
type SessionMeta struct {
	SessionID string        `yaml:"session_id"`
	ServerURL string        `yaml:"server_url,omitempty"`
	Status    SessionStatus `yaml:"status,omitempty"`
	Tasks     int           `yaml:"tasks"`
	SavedAt   time.Time     `yaml:"saved_at"`
}

// SessionRecord is the last observed view of a session, stored as
// snapshot.json next to the meta file.
type SessionRecord struct {
	SessionID string         `json:"session_id"`
	Progress  Progress       `json:"progress"`
	Tasks     []Task         `json:"tasks"`
	History   []HistoryEntry `json:"history,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	SavedAt   time.Time      `json:"saved_at"`
}

// Store persists session snapshots on the local filesystem.
type Store struct {
	basePath string
}

// NewStore creates a Store rooted at basePath; sessions live in
// <basePath>/sessions/<id>/.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.basePath, "sessions")
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.sessionsDir(), sanitizeSessionID(id))
}

// sanitizeSessionID turns an id into a single safe path component.
func sanitizeSessionID(id string) string {
	id = strings.NewReplacer("/", "-", "\\", "-").Replace(id)
	if id == "" || id == "." || id == ".." {
		return "_" + id
	}
	return id
}

// SaveRecord writes session.yaml and snapshot.json for rec.SessionID.
func (s *Store) SaveRecord(serverURL string, rec *SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("session record has no session id")
	}
	dir := s.sessionDir(rec.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	meta := SessionMeta{
		SessionID: rec.SessionID,
		ServerURL: serverURL,
		Status:    rec.Progress.Status,
		Tasks:     len(rec.Tasks),
		SavedAt:   rec.SavedAt,
	}
	metaData, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session.yaml"), metaData, 0o644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshot.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

// LoadRecord reads the saved snapshot of a session.
func (s *Store) LoadRecord(id string) (*SessionRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(id), "snapshot.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	return &rec, nil
}

// GetMeta reads session.yaml for a session.
func (s *Store) GetMeta(id string) (*SessionMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(id), "session.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var meta SessionMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &meta, nil
}

// ListSessions returns the meta of every saved session, most recent first.
func (s *Store) ListSessions() ([]*SessionMeta, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*SessionMeta{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []*SessionMeta{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.sessionsDir(), entry.Name(), "session.yaml"))
		if err != nil {
			continue
		}
		var meta SessionMeta
		if err := yaml.Unmarshal(data, &meta); err != nil {
			continue
		}
		sessions = append(sessions, &meta)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SavedAt.After(sessions[j].SavedAt)
	})
	return sessions, nil
}

// DeleteSession removes a saved session.
func (s *Store) DeleteSession(id string) error {
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("failed to delete session directory: %w", err)
	}
	return nil
}

// SessionExists reports whether a snapshot was saved for id.
func (s *Store) SessionExists(id string) bool {
	_, err := os.Stat(filepath.Join(s.sessionDir(id), "snapshot.json"))
	return err == nil
}
