package credstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoToken means no credential has been persisted yet. Connecting without
// one is a fatal precondition failure, not a retryable error.
var ErrNoToken = errors.New("credstore: no stored token")

type record struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// Store reads and writes one bearer token at a fixed path.
type Store struct {
	path       string
	passphrase string
}

func Open(path, passphrase string) *Store {
	return &Store{
		path:       strings.TrimSpace(path),
		passphrase: passphrase,
	}
}

// Token returns the persisted bearer token, or ErrNoToken when the file is
// absent or holds an empty token.
func (s *Store) Token() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	plaintext, err := decrypt(s.passphrase, raw)
	if err != nil {
		return "", err
	}
	var rec record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return "", ErrInvalid
	}
	token := strings.TrimSpace(rec.Token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (s *Store) SaveToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credstore: token is required")
	}
	payload, err := json.Marshal(record{Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	encrypted, err := encrypt(s.passphrase, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, encrypted, 0o600)
}

// Clear removes the persisted token; missing file is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
