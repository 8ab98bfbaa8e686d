package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrInvalidPath  = errors.New("invalid file path")
)

// Local stores uploaded files (concert images, workshop materials, audio,
// expense receipts) on the local filesystem under a base directory.
type Local struct {
	basePath string
}

func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Local{basePath: basePath}, nil
}

// sanitize rejects traversal and absolute paths and normalises separators.
func sanitize(path string) (string, error) {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if cleaned == "." || cleaned == "" ||
		strings.HasPrefix(cleaned, "/") ||
		strings.HasPrefix(cleaned, "..") ||
		strings.Contains(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// SaveUpload writes a multipart upload under the given subdirectory and
// returns the stored relative path. Filenames are slugified and timestamped
// so repeat uploads never collide.
func (l *Local) SaveUpload(header *multipart.FileHeader, subdir string) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	base := slug.Make(strings.TrimSuffix(filepath.Base(header.Filename), ext))
	if base == "" {
		base = "file"
	}
	name := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)

	relative, err := sanitize(filepath.ToSlash(filepath.Join(subdir, name)))
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(l.basePath, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return relative, nil
}

// Open returns a reader for a stored file.
func (l *Local) Open(path string) (io.ReadCloser, error) {
	relative, err := sanitize(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(l.basePath, filepath.FromSlash(relative)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// FullPath resolves a stored path for handing to http file serving.
func (l *Local) FullPath(path string) (string, error) {
	relative, err := sanitize(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(relative)), nil
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (l *Local) Delete(path string) error {
	relative, err := sanitize(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.basePath, filepath.FromSlash(relative))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
