package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, maxSize int64) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: filepath.Join(t.TempDir(), "uploads"), MaxSize: maxSize})
	require.NoError(t, err)
	return s
}

func TestSaveAndOpen(t *testing.T) {
	s := newStore(t, 1024)
	ctx := context.Background()

	key, err := s.Save(ctx, "holiday photo.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, "_holiday_photo.png"))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestSaveRejectsOversizedUpload(t *testing.T) {
	s := newStore(t, 4)

	_, err := s.Save(context.Background(), "big.txt", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.BasePath())
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be removed")
}

func TestOpenRejectsTraversal(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	_, err := s.Open(ctx, "../secret")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.Open(ctx, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "../../etc/passwd")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecureFilename(t *testing.T) {
	tests := map[string]string{
		"My cool movie.mov":      "My_cool_movie.mov",
		"../../../etc/passwd":    "passwd",
		`C:\Users\bob\notes.txt`: "notes.txt",
		"...hidden":              "hidden",
		"résumé.pdf":             "rsum.pdf",
		"////":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SecureFilename(in), "input %q", in)
	}

	_, err := newStore(t, 0).Save(context.Background(), "///", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
}
