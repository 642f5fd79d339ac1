// Package credential holds the process-wide bearer credential.
//
// The credential is read once from its Store by Init at session start and is
// removed by Logout. Nothing else reads or writes the backing store.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrNotInitialized = errors.New("credential: not initialized")
	ErrMissing        = errors.New("credential: no stored credential")
)

type Credential struct {
	Token    string `yaml:"token"`
	Username string `yaml:"username,omitempty"`
	Server   string `yaml:"server,omitempty"`
}

func (c Credential) Empty() bool { return c.Token == "" }

type Store interface {
	Load() (Credential, error)
	Save(Credential) error
	Clear() error
}

var (
	mu      sync.RWMutex
	backing Store
	current Credential
)

// Init binds the process to store and loads whatever credential it holds.
// A store with no credential is not an error; Current reports ErrMissing.
func Init(store Store) error {
	c, err := store.Load()
	if err != nil && !errors.Is(err, ErrMissing) {
		return fmt.Errorf("load credential: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	backing = store
	current = c
	return nil
}

func Current() (Credential, error) {
	mu.RLock()
	defer mu.RUnlock()
	if backing == nil {
		return Credential{}, ErrNotInitialized
	}
	if current.Empty() {
		return Credential{}, ErrMissing
	}
	return current, nil
}

// Login persists c and makes it current.
func Login(c Credential) error {
	mu.Lock()
	defer mu.Unlock()
	if backing == nil {
		return ErrNotInitialized
	}
	if err := backing.Save(c); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	current = c
	return nil
}

// Logout removes the credential from memory and from the store.
func Logout() error {
	mu.Lock()
	defer mu.Unlock()
	if backing == nil {
		return ErrNotInitialized
	}
	current = Credential{}
	if err := backing.Clear(); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// Shutdown unbinds the store. Init must be called again before use.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	backing = nil
	current = Credential{}
}

// FileStore keeps the credential in a YAML file readable only by its owner.
type FileStore struct {
	Path string
}

func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cloudocs", "credentials.yaml")
	}
	return ".cloudocs-credentials.yaml"
}

func (s FileStore) Load() (Credential, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, ErrMissing
	}
	if err != nil {
		return Credential{}, err
	}
	var c Credential
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Credential{}, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	if c.Empty() {
		return Credential{}, ErrMissing
	}
	return c, nil
}

func (s FileStore) Save(c Credential) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.Path, raw, 0o600)
}

func (s FileStore) Clear() error {
	err := os.Remove(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
