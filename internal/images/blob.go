package images

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBlobNotFound = errors.New("image not found")

// Blob is an uploaded photo as stored and served back to players.
type Blob struct {
	ID          string
	PlayerID    string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// BlobStore keeps uploaded photos.
type BlobStore interface {
	Put(ctx context.Context, blob Blob) error
	Get(ctx context.Context, id string) (Blob, error)
	Delete(ctx context.Context, id string) error
	DeleteByPlayer(ctx context.Context, playerID string) error
}

// MemoryBlobs is a BlobStore for single-process deployments and tests.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string]Blob)}
}

func (m *MemoryBlobs) Put(ctx context.Context, blob Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob.Data = append([]byte(nil), blob.Data...)
	m.mu.Lock()
	m.blobs[blob.ID] = blob
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobs) Get(ctx context.Context, id string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[id]
	if !ok {
		return Blob{}, ErrBlobNotFound
	}
	blob.Data = append([]byte(nil), blob.Data...)
	return blob, nil
}

func (m *MemoryBlobs) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.blobs, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobs) DeleteByPlayer(ctx context.Context, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, blob := range m.blobs {
		if blob.PlayerID == playerID {
			delete(m.blobs, id)
		}
	}
	return nil
}
