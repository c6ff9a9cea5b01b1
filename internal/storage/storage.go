// Package storage abstracts content storage for milestone proof documents
// (IPFS in production). The core treats content refs as opaque strings.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
)

// Service uploads proof documents and returns an opaque content reference.
type Service interface {
	Upload(ctx context.Context, content io.Reader, metadata map[string]string) (string, error)
}

// MockService derives CID-looking refs from the content hash and remembers
// uploads for tests.
type MockService struct {
	mu      sync.Mutex
	uploads map[string][]byte

	FailUpload error
}

func NewMockService() *MockService {
	return &MockService{uploads: make(map[string][]byte)}
}

var _ Service = (*MockService)(nil)

func (m *MockService) Upload(_ context.Context, content io.Reader, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpload != nil {
		return "", m.FailUpload
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	ref := "bafk" + hex.EncodeToString(sum[:16])
	m.uploads[ref] = data
	return ref, nil
}

// Get returns previously uploaded content by ref.
func (m *MockService) Get(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.uploads[ref]
	return data, ok
}
