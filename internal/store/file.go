package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"geofix/internal/cache"
)

// FileStore：整表 JSON 快照；每次变更重写整个文件（先写临时文件再 rename）
// 约束：仅适合单进程与小容量缓存
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) read() (map[string]cache.Entry, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]cache.Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]cache.Entry{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *FileStore) write(m map[string]cache.Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) mutate(fn func(map[string]cache.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		// 快照损坏时以空表重建
		m = map[string]cache.Entry{}
	}
	fn(m)
	return s.write(m)
}

func (s *FileStore) Save(_ context.Context, key string, e cache.Entry) error {
	return s.mutate(func(m map[string]cache.Entry) { m[key] = e })
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	return s.mutate(func(m map[string]cache.Entry) { delete(m, key) })
}

func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(map[string]cache.Entry{})
}

func (s *FileStore) LoadAll(context.Context) (map[string]cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}
