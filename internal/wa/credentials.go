package wa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const credsFile = "creds.json"

// CredentialStore is a directory-backed store for session credentials. The
// credential blob is opaque to the relay; it is written through on every
// creds.update event so a restart can resume the pairing.
type CredentialStore struct {
	dir string
	mu  sync.Mutex
}

// NewCredentialStore opens (and creates, if absent) the credential
// directory.
func NewCredentialStore(dir string) (*CredentialStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create credential directory %s: %w", dir, err)
	}
	return &CredentialStore{dir: dir}, nil
}

// Load returns the stored credential blob, or nil when the device has never
// been paired.
func (s *CredentialStore) Load() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return json.RawMessage(data), nil
}

// Save persists the credential blob, replacing any previous one.
func (s *CredentialStore) Save(creds json.RawMessage) error {
	if len(creds) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path(), creds, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) path() string {
	return filepath.Join(s.dir, credsFile)
}
