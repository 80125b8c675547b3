package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/providers"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process providers.ObjectStore for tests and
// single-node dev runs without an S3-compatible backend configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

var _ providers.ObjectStore = (*MemoryStore)(nil)

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memoryObject{data: cp, contentType: contentType}
	return "mem://" + key, nil
}

func (m *MemoryStore) Get(ctx context.Context, location string) ([]byte, error) {
	key, err := stripScheme(location)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("storage: %s: %w", location, orcherr.ErrJobNotFound)
	}
	return obj.data, nil
}

func stripScheme(location string) (string, error) {
	const prefix = "mem://"
	if len(location) <= len(prefix) || location[:len(prefix)] != prefix {
		return "", fmt.Errorf("storage: location %q is not a mem:// reference", location)
	}
	return location[len(prefix):], nil
}
