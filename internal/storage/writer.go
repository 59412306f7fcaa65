package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/retry"
)

const tempPattern = ".docgate-tmp-*"

// WriterOptions configures a Writer.
type WriterOptions struct {
	Root     string        // sandbox root; every write must land inside it
	DocsRoot string        // optional documentation sub-root (absolute or relative to Root)
	Suffix   string        // required file suffix, e.g. ".md"
	Retries  int           // retries for transient I/O failures
	Backoff  time.Duration // fixed pause between retries
	Logger   *slog.Logger
}

// WriteResult reports the outcome of a single Write call.
type WriteResult struct {
	Success  bool        `json:"success"`
	Path     string      `json:"path,omitempty"`
	Bytes    int         `json:"bytes,omitempty"`
	Kind     apperr.Kind `json:"kind,omitempty"`
	Errors   []string    `json:"errors,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Writer persists documents atomically inside a sandbox root.
type Writer struct {
	root     string
	docsRoot string
	suffix   string
	policy   retry.Policy
	logger   *slog.Logger
	persist  func(abs string, content []byte) error
}

// NewWriter validates opts and returns a Writer. The sandbox root must
// already exist.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Root == "" {
		return nil, errors.New("storage: sandbox root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve sandbox root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage: stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: sandbox root is not a directory: %s", root)
	}

	w := &Writer{
		root:    root,
		suffix:  opts.Suffix,
		policy:  retry.Policy{Retries: opts.Retries, Backoff: opts.Backoff},
		logger:  opts.Logger,
		persist: atomicWrite,
	}
	if w.suffix == "" {
		w.suffix = ".md"
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if opts.DocsRoot != "" {
		docs := opts.DocsRoot
		if !filepath.IsAbs(docs) {
			docs = filepath.Join(root, docs)
		}
		docs = filepath.Clean(docs)
		if !within(root, docs) {
			return nil, fmt.Errorf("storage: docs root %s is outside sandbox root %s", docs, root)
		}
		w.docsRoot = docs
	}
	return w, nil
}

// Root returns the absolute sandbox root.
func (w *Writer) Root() string { return w.root }

// Resolve runs every path check without touching the file system beyond
// reading existing ancestors, and returns the absolute target path.
func (w *Writer) Resolve(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", apperr.New(apperr.KindPathSecurity, "empty target path", "provide a file path relative to the sandbox root")
	}
	if strings.ContainsRune(target, 0) {
		return "", apperr.New(apperr.KindPathSecurity, "target path contains a NUL byte", "remove control characters from the path")
	}

	if hasTraversal(target) {
		return "", apperr.New(apperr.KindPathSecurity,
			fmt.Sprintf("path %q contains a parent-directory segment", target),
			"use a path without '..' segments")
	}

	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}
	abs = filepath.Clean(abs)

	if !within(w.root, abs) || abs == w.root {
		return "", apperr.New(apperr.KindPathSecurity,
			fmt.Sprintf("path %q is outside sandbox root %s", target, w.root),
			"write inside the sandbox root")
	}

	if !strings.HasSuffix(abs, w.suffix) {
		return "", apperr.New(apperr.KindPathSecurity,
			fmt.Sprintf("path %q does not end with %q", target, w.suffix),
			fmt.Sprintf("rename the target to end with %s", w.suffix))
	}

	if err := w.checkSymlinks(abs); err != nil {
		return "", err
	}

	if w.docsRoot != "" && !within(w.docsRoot, abs) {
		return "", apperr.New(apperr.KindPathSecurity,
			fmt.Sprintf("path %q is outside documentation root %s", target, w.docsRoot),
			"write under the documentation directory")
	}
	return abs, nil
}

// checkSymlinks resolves the nearest existing ancestor of abs (abs itself
// if it exists) and verifies the canonical path stays inside the root.
func (w *Writer) checkSymlinks(abs string) error {
	realRoot, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return apperr.Wrap(apperr.KindPathSecurity, err, "cannot resolve sandbox root", "check that the sandbox root exists")
	}

	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return apperr.Wrap(apperr.KindPathSecurity, err,
			fmt.Sprintf("cannot resolve %s", existing), "remove dangling symlinks from the target path")
	}
	canonical := filepath.Join(append([]string{real}, rest...)...)
	if !within(realRoot, canonical) {
		return apperr.New(apperr.KindPathSecurity,
			fmt.Sprintf("path %s resolves to %s outside sandbox root", abs, canonical),
			"do not write through symlinks that leave the sandbox")
	}
	return nil
}

// Write validates target and atomically writes content to it:
// tmp file in the target directory → fsync → rename. On failure the temp
// file is removed and the target is left untouched.
func (w *Writer) Write(content []byte, target string) WriteResult {
	abs, err := w.Resolve(target)
	if err != nil {
		w.logger.Warn("storage: write rejected", slog.String("target", target), slog.String("error", err.Error()))
		return WriteResult{Kind: apperr.KindOf(err), Errors: []string{err.Error()}}
	}

	res := WriteResult{Path: abs}
	err = retry.Do(context.Background(), w.policy, func(attempt int) error {
		if attempt > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("retrying write (attempt %d)", attempt+1))
		}
		if err := w.persist(abs, content); err != nil {
			if permanentIO(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		w.logger.Error("storage: write failed", slog.String("path", abs), slog.String("error", err.Error()))
		res.Kind = apperr.KindWriteIO
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	res.Success = true
	res.Bytes = len(content)
	w.logger.Debug("storage: written", slog.String("path", abs), slog.Int("bytes", len(content)))
	return res
}

func atomicWrite(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// permanentIO reports whether a write error will fail the same way on every
// attempt.
func permanentIO(err error) bool {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrExist) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EISDIR, syscall.ENOTDIR, syscall.ENOTEMPTY, syscall.EROFS, syscall.ENAMETOOLONG} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// hasTraversal reports whether any segment of p is "..", using both
// separators so Windows-style input is caught on every platform.
func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
