package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var validKey = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FileRecords keeps one JSON document per record under dir.
type FileRecords struct {
	dir string
	mu  sync.Mutex
}

func NewFileRecords(dir string) (*FileRecords, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	return &FileRecords{dir: dir}, nil
}

func (s *FileRecords) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid record key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *FileRecords) Load(key string, v any) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *FileRecords) Save(key string, v any) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(p, key+"-*.json", func(w io.Writer) error {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return nil
	})
}

func (s *FileRecords) Close() error { return nil }
