package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kneutral-org/davlock/internal/locking"
)

// MemoryStore is an in-memory implementation of ResourceStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryStore creates a new in-memory store holding only the root folder.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: map[string]*Object{
			"/": {Path: "/", Folder: true, CreatedAt: time.Now()},
		},
	}
}

// GetObject implements ResourceStore.GetObject.
func (s *MemoryStore) GetObject(ctx context.Context, path string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[locking.CleanPath(path)]
	if !ok {
		return nil, nil
	}

	result := *obj
	return &result, nil
}

// CreateFolder implements ResourceStore.CreateFolder.
func (s *MemoryStore) CreateFolder(ctx context.Context, path string) (*Object, error) {
	return s.create(path, true)
}

// CreateResource implements ResourceStore.CreateResource.
func (s *MemoryStore) CreateResource(ctx context.Context, path string) (*Object, error) {
	return s.create(path, false)
}

func (s *MemoryStore) create(path string, folder bool) (*Object, error) {
	path = locking.CleanPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[path]; ok {
		return nil, ErrExists
	}
	parent, ok := s.objects[locking.ParentPath(path)]
	if !ok || !parent.Folder {
		return nil, ErrParentNotFound
	}

	obj := &Object{Path: path, Folder: folder, CreatedAt: time.Now()}
	s.objects[path] = obj

	result := *obj
	return &result, nil
}

// SetNullResource implements ResourceStore.SetNullResource.
func (s *MemoryStore) SetNullResource(ctx context.Context, path string, null bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[locking.CleanPath(path)]
	if !ok {
		return ErrNotFound
	}
	obj.NullResource = null
	return nil
}

// DeleteObject implements ResourceStore.DeleteObject. Deleting a folder
// removes everything beneath it; the root cannot be deleted.
func (s *MemoryStore) DeleteObject(ctx context.Context, path string) error {
	path = locking.CleanPath(path)
	if path == "/" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, path)
	prefix := path + "/"
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			delete(s.objects, p)
		}
	}
	return nil
}
