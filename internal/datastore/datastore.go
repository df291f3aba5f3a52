// Package datastore keeps host-side state between runs: the platform binding
// secret written by pairing and, optionally, the image of an emulated chip.
package datastore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/andrei-cloud/go_optiga/internal/chip"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

type document struct {
	BindingSecret string      `yaml:"binding_secret,omitempty"`
	Chip          *chip.Image `yaml:"chip,omitempty"`
}

// File is a YAML-backed datastore. Every change is written through.
type File struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads path, or starts empty when it does not exist yet.
func Open(path string) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read datastore: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.doc); err != nil {
		return nil, fmt.Errorf("parse datastore %s: %w", path, err)
	}

	return f, nil
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

// BindingSecret implements optiga.SecretStore.
func (f *File) BindingSecret() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.doc.BindingSecret == "" {
		return nil, optiga.ErrNoBindingSecret
	}
	secret, err := hex.DecodeString(f.doc.BindingSecret)
	if err != nil {
		return nil, fmt.Errorf("decode binding secret: %w", err)
	}

	return secret, nil
}

// SetBindingSecret implements optiga.SecretStore.
func (f *File) SetBindingSecret(secret []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.doc.BindingSecret = hex.EncodeToString(secret)

	return f.save()
}

// ChipImage returns the stored chip image, if any.
func (f *File) ChipImage() (chip.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.doc.Chip == nil {
		return chip.Image{}, false
	}

	return *f.doc.Chip, true
}

// SaveChipImage replaces the stored chip image.
func (f *File) SaveChipImage(img chip.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.doc.Chip = &img

	return f.save()
}

func (f *File) save() error {
	data, err := yaml.Marshal(&f.doc)
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create datastore dir: %w", err)
		}
	}
	// the binding secret is key material
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write datastore: %w", err)
	}

	return nil
}

// Memory is an in-process datastore.
type Memory struct {
	mu     sync.Mutex
	secret []byte
	image  *chip.Image
}

// NewMemory returns an empty in-memory datastore.
func NewMemory() *Memory {
	return &Memory{}
}

// BindingSecret implements optiga.SecretStore.
func (m *Memory) BindingSecret() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secret == nil {
		return nil, optiga.ErrNoBindingSecret
	}

	return append([]byte(nil), m.secret...), nil
}

// SetBindingSecret implements optiga.SecretStore.
func (m *Memory) SetBindingSecret(secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secret = append([]byte(nil), secret...)

	return nil
}

// ChipImage returns the stored chip image, if any.
func (m *Memory) ChipImage() (chip.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.image == nil {
		return chip.Image{}, false
	}

	return *m.image, true
}

// SaveChipImage replaces the stored chip image.
func (m *Memory) SaveChipImage(img chip.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.image = &img

	return nil
}

// Store is what the rest of the program needs from a datastore.
type Store interface {
	optiga.SecretStore
	ChipImage() (chip.Image, bool)
	SaveChipImage(img chip.Image) error
}

var (
	_ Store = (*File)(nil)
	_ Store = (*Memory)(nil)
)
