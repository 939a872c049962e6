package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{
		Root:        t.TempDir(),
		BaseURL:     "https://mirror.example/dl",
		Secret:      "a-signing-secret-long-enough",
		KeyCount:    3,
		AllowedExts: []string{"vp", "7z", "png"},
	})
	require.NoError(t, err)
	return s
}

func TestAuthorizeAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	expiry := now.Add(time.Hour)

	sig := s.Sign(1, expiry)
	assert.NoError(t, s.Authorize(1, expiry.Unix(), sig, now))
}

func TestAuthorizeRejections(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	expiry := now.Add(time.Hour)
	sig := s.Sign(1, expiry)

	// Tampered signature.
	assert.ErrorIs(t, s.Authorize(1, expiry.Unix(), "deadbeef", now), ErrBadSignature)

	// Signature for a different key index.
	assert.ErrorIs(t, s.Authorize(2, expiry.Unix(), sig, now), ErrBadSignature)

	// Shifting the expiry invalidates the signature too.
	assert.ErrorIs(t, s.Authorize(1, expiry.Add(time.Hour).Unix(), sig, now), ErrBadSignature)

	// Correctly signed but expired.
	past := now.Add(-time.Hour)
	assert.ErrorIs(t, s.Authorize(1, past.Unix(), s.Sign(1, past), now), ErrExpired)

	// Key index outside the configured range.
	assert.ErrorIs(t, s.Authorize(7, expiry.Unix(), s.Sign(7, expiry), now), ErrUnknownKey)
}

func TestSaveStoresContentAddressed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	obj, err := s.Save("archive.vp", strings.NewReader("vp bytes"))
	require.NoError(t, err)

	assert.False(t, obj.Duplicate)
	assert.Equal(t, int64(8), obj.Size)
	assert.Len(t, obj.Digest, 64)
	assert.Equal(t, obj.Digest[:2]+"/"+obj.Digest+".vp", obj.Path)
	assert.Equal(t, "https://mirror.example/dl/"+obj.Path, obj.URL)

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(obj.Path)))
	require.NoError(t, err)
	assert.Equal(t, "vp bytes", string(data))
}

func TestSaveDeduplicatesIdenticalContent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	first, err := s.Save("a.vp", strings.NewReader("same bytes"))
	require.NoError(t, err)
	second, err := s.Save("b.vp", strings.NewReader("same bytes"))
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Path, second.Path)
}

func TestSaveRejectsDisallowedExtensions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.Save("payload.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrExtNotAllowed)
	_, err = s.Save("no-extension", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrExtNotAllowed)
}

func TestNewRequiresRootAndSecret(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Secret: "s"})
	assert.Error(t, err)
	_, err = New(Config{Root: t.TempDir()})
	assert.Error(t, err)
}
