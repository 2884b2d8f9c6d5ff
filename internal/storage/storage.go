package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/brainforce/apiserver/config"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the bucket.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectExists is returned by a create-only Put when the key is taken.
	ErrObjectExists = errors.New("object already exists")
)

// PutOptions describe the stored object. With CreateOnly set, Put fails
// with ErrObjectExists instead of overwriting.
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
	CreateOnly   bool
}

// Object is an open object body and the metadata needed to serve it over
// HTTP. Callers must close Body.
type Object struct {
	Body         io.ReadCloser
	ContentType  string
	CacheControl string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStorage is implemented by each bucket backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage wraps the configured backend.
type Storage struct {
	backend ObjectStorage
}

func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open builds the backend selected by cfg and ensures its bucket exists.
// It returns a nil *Storage when the backend is "none".
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.BackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Backend, err)
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return NewStorage(backend), nil
}

func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	return s.backend.Put(ctx, key, r, size, opts)
}

func (s *Storage) Get(ctx context.Context, key string) (Object, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.backend.Delete(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}

func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
