// Package session persists the signed-in user between runs.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotSignedIn is returned when no usable session exists.
var ErrNotSignedIn = errors.New("session: not signed in")

// Session is the state kept after a successful login.
type Session struct {
	Token         string    `yaml:"token"`
	EncodedUserID string    `yaml:"encoded_user_id"`
	Email         string    `yaml:"email"`
	Name          string    `yaml:"name"`
	LoggedInAt    time.Time `yaml:"logged_in_at"`
}

// UserID decodes the numeric user id carried by the session.
func (s Session) UserID() (int64, error) {
	if strings.TrimSpace(s.EncodedUserID) == "" {
		return 0, ErrNotSignedIn
	}
	return DecodeUserID(s.EncodedUserID)
}

// DecodeUserID turns the server's encoded user id into a number. The value
// is base64 of the decimal id; the literal "test" is the sandbox user 1 and
// bare decimal ids are accepted as-is.
func DecodeUserID(encoded string) (int64, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "test" {
		return 1, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		if id, ok := positiveInt(string(raw)); ok {
			return id, nil
		}
	}
	if id, ok := positiveInt(encoded); ok {
		return id, nil
	}
	return 0, fmt.Errorf("session: cannot decode user id %q", encoded)
}

func positiveInt(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Store reads and writes session.yaml in one directory.
type Store struct {
	dir string
}

// DefaultDir is ~/.fieldops.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session: home dir: %w", err)
	}
	return filepath.Join(home, ".fieldops"), nil
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, "session.yaml")
}

// Load returns the saved session or ErrNotSignedIn.
func (s *Store) Load() (Session, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Session{}, ErrNotSignedIn
		}
		return Session{}, fmt.Errorf("session: read %s: %w", s.Path(), err)
	}
	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("session: parse %s: %w", s.Path(), err)
	}
	if strings.TrimSpace(sess.Token) == "" {
		return Session{}, ErrNotSignedIn
	}
	return sess, nil
}

// Save writes sess readable only by the current user.
func (s *Store) Save(sess Session) error {
	if strings.TrimSpace(sess.Token) == "" {
		return fmt.Errorf("session: token is required")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("session: ensure dir: %w", err)
	}
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := os.WriteFile(s.Path(), data, 0o600); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(s.Path(), 0o600)
}

// Clear removes the saved session. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}
