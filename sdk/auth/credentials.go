package auth

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
)

// Credentials is the persisted triple. It is only ever stored or cleared as
// a whole.
type Credentials struct {
	AccessToken  string     `yaml:"accessToken"`
	RefreshToken string     `yaml:"refreshToken"`
	User         *chat.User `yaml:"user"`
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != "" && c.User != nil
}

// TokenStore persists Credentials atomically.
type TokenStore interface {
	// Load returns ok=false when nothing is stored.
	Load() (creds Credentials, ok bool, err error)
	Save(creds Credentials) error
	Clear() error
}

type MemoryTokenStore struct {
	mu    sync.Mutex
	creds *Credentials
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Load() (Credentials, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return Credentials{}, false, nil
	}
	return *m.creds, true, nil
}

func (m *MemoryTokenStore) Save(creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *MemoryTokenStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

// FileTokenStore keeps credentials in a YAML file readable only by the
// owner. Writes go through a temp file and rename.
type FileTokenStore struct {
	Path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

func (f *FileTokenStore) Load() (Credentials, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, errors.Wrap(err, "read credentials")
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, false, errors.Wrap(ErrCorruptCredentials, err.Error())
	}
	return creds, true, nil
}

func (f *FileTokenStore) Save(creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write credentials")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod credentials")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close credentials")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.Path), "replace credentials")
}

func (f *FileTokenStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove credentials")
	}
	return nil
}
