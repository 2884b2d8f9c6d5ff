package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/brainforce/apiserver/internal/storage"
	"github.com/brainforce/apiserver/internal/store"
	"github.com/google/uuid"
)

// PhotoRoutePrefix is the public path uploaded photos are served under.
const PhotoRoutePrefix = "/auth/photos/"

const photoKeyPrefix = "photos/"

var photoExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var photoNamePattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.(png|jpg|gif|webp)$`)

// PhotoCacheControl is stored with each upload. Names are never reused, so
// clients may cache photos indefinitely.
const PhotoCacheControl = "public, max-age=31536000, immutable"

// ObjectStore is satisfied by *storage.Storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) error
	Get(ctx context.Context, key string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// PhotoService stores profile pictures in object storage. A PhotoService
// without a store rejects uploads with ErrUnavailable.
type PhotoService struct {
	objects  ObjectStore
	maxBytes int64
	logger   *slog.Logger
}

func NewPhotoService(objects ObjectStore, maxBytes int64, logger *slog.Logger) *PhotoService {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PhotoService{objects: objects, maxBytes: maxBytes, logger: logger}
}

// MaxBytes is the largest accepted upload.
func (s *PhotoService) MaxBytes() int64 {
	return s.maxBytes
}

// Upload sniffs the image type, stores the bytes under a fresh key tagged
// with the uploader's email and returns the public reference to record on
// the user.
func (s *PhotoService) Upload(ctx context.Context, owner string, r io.Reader, size int64) (string, error) {
	if s == nil || s.objects == nil {
		return "", ErrUnavailable
	}
	if size > s.maxBytes {
		return "", validationError(fmt.Sprintf("Photo must be at most %d bytes", s.maxBytes))
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read photo: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", validationError("Photo is empty")
	}

	contentType := http.DetectContentType(head)
	ext, ok := photoExtensions[contentType]
	if !ok {
		return "", validationError("Photo must be a PNG, JPEG, GIF or WebP image")
	}

	name := uuid.NewString() + ext
	body := io.MultiReader(bytes.NewReader(head), r)
	err = s.objects.Put(ctx, photoKeyPrefix+name, body, size, storage.PutOptions{
		ContentType:  contentType,
		CacheControl: PhotoCacheControl,
		Metadata:     map[string]string{"owner": owner},
		CreateOnly:   true,
	})
	if err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return PhotoRoutePrefix + name, nil
}

// Open returns the stored photo called name. Callers must close Body.
func (s *PhotoService) Open(ctx context.Context, name string) (storage.Object, error) {
	if s == nil || s.objects == nil {
		return storage.Object{}, ErrUnavailable
	}
	if !photoNamePattern.MatchString(name) {
		return storage.Object{}, store.ErrNotFound
	}
	obj, err := s.objects.Get(ctx, photoKeyPrefix+name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return storage.Object{}, store.ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("open photo: %w", err)
	}
	return obj, nil
}

// Release deletes the object behind ref when ref points at an uploaded
// photo. Other references, such as external URLs, are ignored.
func (s *PhotoService) Release(ctx context.Context, ref string) {
	if s == nil || s.objects == nil {
		return
	}
	name, ok := strings.CutPrefix(ref, PhotoRoutePrefix)
	if !ok || !photoNamePattern.MatchString(name) {
		return
	}
	if err := s.objects.Delete(ctx, photoKeyPrefix+name); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("delete replaced photo", slog.String("key", photoKeyPrefix+name), slog.String("error", err.Error()))
	}
}
