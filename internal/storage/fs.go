package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxReadSize caps a single Read.
const MaxReadSize = 1 << 20

// ErrEscapesRoot is returned for paths that resolve outside the root, before
// or after symlink resolution.
var ErrEscapesRoot = errors.New("storage: path escapes root")

// FS is a read-only Provider over a directory tree. Symlinks are followed
// only when their target stays under the root.
type FS struct {
	root string // absolute, symlinks resolved
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: real}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// resolve maps a root-relative path to an absolute one. A path whose target
// exists is also checked after symlink resolution.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	if strings.ContainsRune(rel, 0) || filepath.IsAbs(rel) || hasTraversal(rel) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, rel)
	}
	abs := filepath.Join(f.root, rel)
	if !within(f.root, abs) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, rel)
	}
	real, err := filepath.EvalSymlinks(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return abs, nil
	case err != nil:
		return "", fmt.Errorf("storage: resolve %s: %w", rel, err)
	case !within(f.root, real):
		return "", fmt.Errorf("%w: %s links to %s", ErrEscapesRoot, rel, real)
	}
	return real, nil
}

// Read returns the contents of a regular file under root, up to MaxReadSize.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxReadSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if len(data) > MaxReadSize {
		return nil, fmt.Errorf("storage: read %s: exceeds %d bytes", path, MaxReadSize)
	}
	return data, nil
}

// Exists reports whether path names a regular file under root.
func (f *FS) Exists(path string) bool {
	abs, err := f.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// List walks dir (relative to root) and returns the slash-separated paths of
// every file ending in suffix. Symlinked entries are not followed.
func (f *FS) List(dir, suffix string) ([]string, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// within reports whether path equals root or lies beneath it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(os.PathSeparator))+string(os.PathSeparator))
}
