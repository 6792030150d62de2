package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

// LocalFileStore writes documents below a root directory. Keys are slash
// separated and may not escape the root.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: storage root is required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid file key %q", domain.ErrInvalidInput, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalFileStore) Put(ctx context.Context, key, contentType string, body io.Reader) (ports.FileRef, error) {
	target, err := s.path(key)
	if err != nil {
		return ports.FileRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return ports.FileRef{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return ports.FileRef{}, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return ports.FileRef{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ports.FileRef{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return ports.FileRef{}, fmt.Errorf("commit %s: %w", key, err)
	}
	return ports.FileRef{
		Key:         filepath.ToSlash(strings.TrimPrefix(target, s.root+string(filepath.Separator))),
		ContentType: contentType,
		SizeBytes:   size,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (s *LocalFileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

var _ ports.FileStore = (*LocalFileStore)(nil)
