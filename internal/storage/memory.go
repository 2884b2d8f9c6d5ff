package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"maps"
	"sync"
	"time"
)

type memoryObject struct {
	data     []byte
	opts     PutOptions
	modified time.Time
}

// MemoryStorage keeps objects in process memory. It backs tests and local
// runs without an object store.
type MemoryStorage struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

func NewMemoryStorage(bucket string) *MemoryStorage {
	return &MemoryStorage{bucket: bucket, objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) EnsureBucket(context.Context) error { return nil }

func (m *MemoryStorage) Put(_ context.Context, key string, r io.Reader, _ int64, opts PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	opts.Metadata = maps.Clone(opts.Metadata)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists && opts.CreateOnly {
		return ErrObjectExists
	}
	m.objects[key] = memoryObject{data: data, opts: opts, modified: time.Now().UTC()}
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	sum := md5.Sum(obj.data)
	return Object{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:  obj.opts.ContentType,
		CacheControl: obj.opts.CacheControl,
		Size:         int64(len(obj.data)),
		ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
		LastModified: obj.modified,
	}, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) Bucket() string { return m.bucket }

// Metadata returns the user metadata stored with key.
func (m *MemoryStorage) Metadata(key string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.opts.Metadata, ok
}

// Has reports whether key is stored.
func (m *MemoryStorage) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}
