package documents

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ArtifactStore — content-addressed хранилище сгенерированных артефактов.
// Put по уже существующей ссылке — ошибка: однажды отправленный артефакт
// нельзя молча перезаписать.
type ArtifactStore interface {
	Put(ref string, content []byte) error
	Get(ref string) ([]byte, error)
}

// FSStore хранит артефакты на диске, ссылка — относительный путь.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) Put(ref string, content []byte) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return errors.Errorf("artifact %s already exists", ref)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "mkdir artifact dir")
	}
	return errors.Wrap(os.WriteFile(p, content, 0o644), "write artifact")
}

func (s *FSStore) Get(ref string) ([]byte, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	return b, errors.Wrap(err, "read artifact")
}

func (s *FSStore) path(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.Errorf("bad artifact ref %q", ref)
	}
	return filepath.Join(s.root, clean), nil
}
