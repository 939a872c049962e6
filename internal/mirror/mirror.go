// Package mirror implements the signed-path upload store: drops are
// authorized by an HMAC over the key index and expiry, and content is
// kept addressed by its blake2b-256 digest so identical drops share one
// file.
package mirror

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrBadSignature is returned when the path signature does not
	// verify.
	ErrBadSignature = errors.New("mirror: signature mismatch")

	// ErrExpired is returned for an upload path past its expiry.
	ErrExpired = errors.New("mirror: upload path expired")

	// ErrUnknownKey is returned for a key index outside the configured
	// range.
	ErrUnknownKey = errors.New("mirror: unknown key index")

	// ErrExtNotAllowed is returned for file extensions outside the
	// allow-list.
	ErrExtNotAllowed = errors.New("mirror: file extension not allowed")
)

// SavedObject describes a stored drop.
type SavedObject struct {
	// Path is the object's location relative to the store root.
	Path string

	// URL is the public link, when a base URL is configured.
	URL string

	Digest    string
	Size      int64
	Duplicate bool
}

// Store holds uploaded files under a content-addressed layout.
type Store struct {
	root        string
	baseURL     string
	secret      []byte
	keyCount    int
	allowedExts map[string]bool
}

// Config carries the store settings.
type Config struct {
	Root        string
	BaseURL     string
	Secret      string
	KeyCount    int
	AllowedExts []string
}

func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("mirror: root directory is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("mirror: signing secret is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: cannot create root: %w", err)
	}

	keyCount := cfg.KeyCount
	if keyCount <= 0 {
		keyCount = 1
	}

	exts := make(map[string]bool, len(cfg.AllowedExts))
	for _, ext := range cfg.AllowedExts {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	return &Store{
		root:        cfg.Root,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		secret:      []byte(cfg.Secret),
		keyCount:    keyCount,
		allowedExts: exts,
	}, nil
}

// Sign computes the path signature for a key index and expiry.
func (s *Store) Sign(keyIndex int, expiry time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d:%d", keyIndex, expiry.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

// Authorize checks an upload path: known key index, unexpired, and a
// verifying signature. The signature is checked last so a probe learns
// nothing about which part failed first.
func (s *Store) Authorize(keyIndex int, expiry int64, sig string, now time.Time) error {
	if keyIndex < 0 || keyIndex >= s.keyCount {
		return fmt.Errorf("%w: %d", ErrUnknownKey, keyIndex)
	}

	want := s.Sign(keyIndex, time.Unix(expiry, 0))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	if now.Unix() >= expiry {
		return ErrExpired
	}
	return nil
}

// Save streams r into the store and returns where it ended up. An
// object with the same digest and extension is deduplicated.
func (s *Store) Save(filename string, r io.Reader) (SavedObject, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" || (len(s.allowedExts) > 0 && !s.allowedExts[ext]) {
		return SavedObject{}, fmt.Errorf("%w: %q", ErrExtNotAllowed, ext)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return SavedObject{}, err
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return SavedObject{}, fmt.Errorf("mirror: cannot stage upload: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(io.MultiWriter(hash, tmp), r)
	if err != nil {
		return SavedObject{}, fmt.Errorf("mirror: upload aborted: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return SavedObject{}, err
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	relPath := path.Join(digest[:2], digest+"."+ext)
	target := filepath.Join(s.root, filepath.FromSlash(relPath))

	obj := SavedObject{Path: relPath, Digest: digest, Size: size}
	if s.baseURL != "" {
		obj.URL = s.baseURL + "/" + relPath
	}

	if _, err := os.Stat(target); err == nil {
		obj.Duplicate = true
		return obj, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return SavedObject{}, fmt.Errorf("mirror: cannot create bucket: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return SavedObject{}, fmt.Errorf("mirror: cannot place object: %w", err)
	}
	return obj, nil
}
