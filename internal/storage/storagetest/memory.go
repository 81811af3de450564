// Package storagetest provides an in-memory ArtifactStore for tests.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"slotbox-bot/internal/storage"
)

type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr and DeleteErr, when set, are returned instead of storing.
	PutErr    error
	DeleteErr error
	// Block makes Put wait for the context to end.
	Block bool
}

var _ storage.ArtifactStore = (*Store)(nil)

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	block, putErr := s.Block, s.PutErr
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if putErr != nil {
		return "", putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return "https://files.test/" + key, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Object
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.Object{Key: key, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if _, ok := s.objects[key]; !ok {
		return errors.New("no such key")
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
