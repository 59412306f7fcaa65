// Package storage provides sandboxed file access: a read-only provider for
// template trees and an atomic writer for documentation output.
package storage

// Provider is the interface for reading files under a fixed root.
type Provider interface {
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// List returns the root-relative paths of files ending in suffix under dir.
	List(dir, suffix string) ([]string, error)
	// Root returns the absolute root directory.
	Root() string
}

// Persister resolves and atomically writes documents.
type Persister interface {
	Resolve(target string) (string, error)
	Write(content []byte, target string) WriteResult
}

var (
	_ Provider  = (*FS)(nil)
	_ Persister = (*Writer)(nil)
)
