// Package upload stores template images and returns URLs that can be embedded
// in rendered documents.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrEmpty is returned for zero-length payloads.
	ErrEmpty = errors.New("no image data provided")
	// ErrTooLarge is returned when a payload exceeds the configured limit.
	ErrTooLarge = errors.New("image exceeds maximum upload size")
	// ErrNotImage is returned when the payload is not a supported image type.
	ErrNotImage = errors.New("file is not a supported image")
	// ErrInvalidKey is returned for object keys that could escape the store root.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrNotFound is returned when no image is stored under a key.
	ErrNotFound = errors.New("image not found")
)

// Store is an image storage backend.
type Store interface {
	// Put stores the object under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the public URL of key.
	URL(key string) string
}

// imageTypes maps sniffed content types to the extension used for new keys.
// SVG is excluded because it can carry script.
var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// extensionAliases lists accepted client extensions per content type.
var extensionAliases = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
	"image/bmp":  {".bmp"},
}

// Result describes a stored image.
type Result struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Service validates image payloads and writes them to a Store.
type Service struct {
	store    Store
	backend  string
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates an upload service. maxBytes <= 0 disables the size limit.
func NewService(store Store, backend string, maxBytes int64, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		backend:  backend,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Backend returns the configured backend name.
func (s *Service) Backend() string {
	return s.backend
}

// MaxBytes returns the upload size limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload validates r as an image and stores it under a new random key.
// filename is only used to pick the key extension.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (*Result, error) {
	data, err := s.read(r)
	if err != nil {
		return nil, err
	}

	contentType := http.DetectContentType(data)
	if _, ok := imageTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, contentType)
	}

	key := uuid.New().String() + extensionFor(filename, contentType)
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	s.logger.Info("image uploaded",
		"key", key,
		"backend", s.backend,
		"content_type", contentType,
		"size", len(data),
	)

	return &Result{
		Key:         key,
		URL:         s.store.URL(key),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// Delete removes a previously uploaded image. It returns ErrNotFound when
// nothing is stored under key.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to look up image: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	s.logger.Info("image deleted", "key", key, "backend", s.backend)
	return nil
}

func (s *Service) read(r io.Reader) ([]byte, error) {
	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxBytes)
	}
	return data, nil
}

// extensionFor keeps the client's extension when it agrees with the sniffed
// type, otherwise uses the canonical one.
func extensionFor(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, alias := range extensionAliases[contentType] {
		if ext == alias {
			return ext
		}
	}
	return imageTypes[contentType]
}

// ValidateKey rejects keys that are empty, absolute or contain path traversal.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.ContainsAny(key, "\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
