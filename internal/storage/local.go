package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	fberr "github.com/firebridge/firebridge/internal/errors"
	"github.com/firebridge/firebridge/internal/uid"
)

// LocalBackend stores objects as files under RootDir. Object metadata is
// kept in JSON sidecar files under RootDir/.meta.
type LocalBackend struct {
	// RootDir is the base directory for all object data.
	RootDir string
	// BaseURL is the public prefix objects are served under. When empty,
	// URL returns file:// URLs.
	BaseURL string
}

// NewLocalBackend creates a LocalBackend rooted at rootDir, creating the
// root, temp and metadata directories if they do not exist.
func NewLocalBackend(rootDir, baseURL string) (*LocalBackend, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root %q: %w", rootDir, err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, ".tmp"), filepath.Join(abs, ".meta")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %q: %w", dir, err)
		}
	}
	return &LocalBackend{RootDir: abs, BaseURL: baseURL}, nil
}

// CleanTempFiles removes all files in the .tmp directory. Called on startup:
// leftovers are incomplete writes from a previous crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

func (b *LocalBackend) objectPath(key string) string {
	return filepath.Join(b.RootDir, filepath.FromSlash(key))
}

// reservedLocalKey reports whether key falls in a directory the backend uses
// for its own files.
func reservedLocalKey(key string) bool {
	top, _, _ := strings.Cut(key, "/")
	return top == ".tmp" || top == ".meta"
}

func (b *LocalBackend) metaPath(key string) string {
	return filepath.Join(b.RootDir, ".meta", filepath.FromSlash(key)+".json")
}

func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// Put writes data with the crash-only pattern: temp file, fsync, rename.
// The metadata sidecar is written the same way after the data.
func (b *LocalBackend) Put(ctx context.Context, key string, data []byte, meta *Metadata) (*Metadata, error) {
	if reservedLocalKey(key) {
		return nil, fberr.ErrInvalidArgument.WithMessage("object key %q is reserved", key)
	}
	out := describe(key, "", data, meta)

	if err := b.writeAtomic(b.objectPath(key), data); err != nil {
		return nil, fmt.Errorf("writing object %q: %w", key, err)
	}

	sidecar, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := b.writeAtomic(b.metaPath(key), sidecar); err != nil {
		return nil, fmt.Errorf("writing metadata for %q: %w", key, err)
	}
	return out, nil
}

func (b *LocalBackend) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directories: %w", err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return nil
}

// URL returns BaseURL/key, or a file:// URL when BaseURL is empty. The
// object must exist.
func (b *LocalBackend) URL(ctx context.Context, key string) (*url.URL, error) {
	path := b.objectPath(key)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || reservedLocalKey(key) {
		if err == nil || os.IsNotExist(err) {
			return nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
		}
		return nil, fmt.Errorf("checking object %q: %w", key, err)
	}
	if b.BaseURL == "" {
		return &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}, nil
	}
	return joinURL(b.BaseURL, key)
}

// Open returns the object file and its metadata. Objects written without a
// sidecar get metadata built from the file itself.
func (b *LocalBackend) Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	if reservedLocalKey(key) {
		return nil, nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
	}
	f, err := os.Open(b.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fberr.ErrNotFound.WithMessage("object %q does not exist", key)
		}
		return nil, nil, fmt.Errorf("opening object %q: %w", key, err)
	}

	var meta Metadata
	raw, err := os.ReadFile(b.metaPath(key))
	if err == nil {
		err = json.Unmarshal(raw, &meta)
	}
	if err != nil {
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, nil, fmt.Errorf("stat object %q: %w", key, statErr)
		}
		meta = Metadata{Name: key, Size: info.Size(), Updated: info.ModTime().UTC()}
	}
	return f, &meta, nil
}

// HealthCheck verifies that the root directory is writable.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	probe := b.tempPath()
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return fmt.Errorf("storage root %q is not writable: %w", b.RootDir, err)
	}
	os.Remove(probe)
	return nil
}
