// Package storage keeps uploaded files on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no object is stored under the key.
	ErrNotFound = errors.New("file not found")
	// ErrTooLarge means the upload exceeded the configured size.
	ErrTooLarge = errors.New("file too large")
	// ErrInvalidName means nothing usable was left of the file name.
	ErrInvalidName = errors.New("invalid file name")
)

// Store saves and serves uploaded files.
type Store interface {
	Save(ctx context.Context, filename string, r io.Reader) (key string, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// LocalStorage stores files in one directory.
type LocalStorage struct {
	basePath string
	maxSize  int64
}

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
	MaxSize  int64  `mapstructure:"max_size"`
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &LocalStorage{basePath: absPath, maxSize: cfg.MaxSize}, nil
}

// fullPath maps a key onto a file directly under basePath. Keys with path
// separators are rejected.
func (s *LocalStorage) fullPath(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, key)
	}
	return filepath.Join(s.basePath, key), nil
}

// Save writes r under a fresh key derived from filename. The write goes to a
// temp file first so readers never see a partial upload.
func (s *LocalStorage) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	name := SecureFilename(filename)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	key := uuid.New().String()[:8] + "_" + name
	path, err := s.fullPath(key)
	if err != nil {
		return "", err
	}

	tmpFile, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(tmpFile, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxSize)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return key, nil
}

// Open returns the content stored under key.
func (s *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks if content with the given key exists.
func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.fullPath(key)
	if err != nil {
		return false, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// BasePath returns the directory files are stored in.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// SecureFilename reduces name to a safe ASCII file name: directories are
// dropped, whitespace becomes underscores, and only letters, digits, '.',
// '-' and '_' survive. Leading dots and underscores are trimmed.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var sb strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			sb.WriteByte('_')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'):
			sb.WriteRune(r)
		}
	}
	return strings.Trim(sb.String(), "._")
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
