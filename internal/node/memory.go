package node

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps nodes in process memory. Records are copied on the way
// in and out, so callers never share a *Node with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]*Node
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[uuid.UUID]*Node)}
}

func (s *MemoryStore) Create(_ context.Context, n *Node) error {
	if n == nil {
		return ErrNilNode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.UUID]; ok {
		return ErrAlreadyExists
	}
	s.nodes[n.UUID] = n.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, n *Node) error {
	if n == nil {
		return ErrNilNode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.UUID]; !ok {
		return ErrNotFound
	}
	n.UpdatedAt = time.Now().UTC()
	s.nodes[n.UUID] = n.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return ErrNotFound
	}
	delete(s.nodes, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Node, error) {
	s.mu.RLock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	s.mu.RUnlock()
	sortNodes(out)
	return out, nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].UUID.String() < nodes[j].UUID.String()
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}
