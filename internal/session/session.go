// Package session keeps the signed-in user. A Store is an explicit object
// handed to the components that need the current user; it persists to a
// small YAML file so a login survives restarts.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"eventhub/internal/config"
	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

var ErrInvalidUser = errors.New("session: user id is empty")

type file struct {
	User *model.User `yaml:"user,omitempty"`
}

type Store struct {
	mu   sync.RWMutex
	path string
	user *model.User
}

// NewMemory returns a Store that is never persisted.
func NewMemory() *Store {
	return &Store{}
}

// Open loads the session stored at path. A missing file yields an empty
// session; an empty path yields an in-memory store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("session: read %q: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("session: decode %q: %w", path, err)
	}
	if f.User != nil && f.User.ID != "" {
		s.user = f.User
	}
	return s, nil
}

// Current returns the signed-in user, if any.
func (s *Store) Current() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

// Set replaces the signed-in user and persists it.
func (s *Store) Set(user model.User) error {
	if user.ID == "" {
		return ErrInvalidUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.user
	s.user = &user
	if err := s.persist(); err != nil {
		s.user = prev
		return err
	}
	appLog.Debug("session user set", "user_id", user.ID)
	return nil
}

// Clear signs the user out. Clearing an empty session is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove %q: %w", s.path, err)
	}
	return nil
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(file{User: s.user})
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, data, ".eventhub-session-*.tmp"); err != nil {
		return fmt.Errorf("session: write %q: %w", s.path, err)
	}
	return nil
}
