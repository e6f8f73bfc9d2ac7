// Package proofstore persists receipt and deposit proof photos uploaded by
// riders. Proof persistence is best-effort on the submit path: a failed
// upload must not block the financial close, so callers log and continue
// with an empty reference.
package proofstore

import (
	"context"
	"fmt"
	"sync"

	"setorstok/backend/internal/xid"
)

// Store saves an opaque proof blob and returns a stable reference for it.
type Store interface {
	Put(ctx context.Context, kind string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Memory keeps proofs in process memory. Suitable for development and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, kind string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty proof payload")
	}
	ref := xid.New("proof-" + kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blobs[ref] = stored
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("proof %s not found", ref)
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Unavailable always fails. Used when no proof backend is configured so the
// submit path exercises its degraded branch instead of silently dropping
// uploads.
type Unavailable struct{}

func (Unavailable) Put(_ context.Context, _ string, _ []byte) (string, error) {
	return "", fmt.Errorf("proof storage not configured")
}

func (Unavailable) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, fmt.Errorf("proof storage not configured")
}
