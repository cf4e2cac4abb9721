package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// FileStore serves the catalog from a YAML file. The file is parsed at
// construction and re-read when its modification time changes, so catalog
// updates do not require a restart.
type FileStore struct {
	path string

	mu       sync.RWMutex
	bySlug   map[string]*Extension
	loadedAt time.Time
}

// catalogFile is the on-disk document shape.
type catalogFile struct {
	Extensions []Extension `yaml:"extensions"`
}

// NewFileStore loads the catalog from path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements Store, re-reading the file first if it changed on disk.
func (s *FileStore) Get(ctx context.Context, slug string) (*Extension, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.reloadIfChanged(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ext, ok := s.bySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ext
	return &cp, nil
}

func (s *FileStore) reloadIfChanged() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat catalog file: %w", err)
	}

	s.mu.RLock()
	fresh := !info.ModTime().After(s.loadedAt)
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.load()
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file %s: %w", s.path, err)
	}

	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse catalog file %s: %w", s.path, err)
	}

	bySlug := make(map[string]*Extension, len(doc.Extensions))
	for i := range doc.Extensions {
		ext := doc.Extensions[i]
		if ext.Slug == "" {
			return fmt.Errorf("catalog file %s: extension %d has no slug", s.path, i)
		}
		if ext.LatestVersion == "" {
			return fmt.Errorf("catalog file %s: extension %q has no latest_version", s.path, ext.Slug)
		}
		bySlug[ext.Slug] = &ext
	}

	s.mu.Lock()
	s.bySlug = bySlug
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}
