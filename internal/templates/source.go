// Package templates resolves template definitions through a primary tree,
// an override tree and an optional allow-listed remote host.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/checksum"
	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/storage"
)

// DefaultSuffix is the file suffix of local templates.
const DefaultSuffix = ".md"

// Options configures a Source.
type Options struct {
	PrimaryDir   string
	OverrideDir  string
	Suffix       string
	ManifestPath string
	Remote       *Remote // nil disables the remote layer
	Clock        clock.Clock
	Logger       *slog.Logger
}

type layer struct {
	name       models.Provenance
	dir        string
	store      storage.Provider // nil when dir is unset or missing
	missReason string
}

// Source resolves templates layer by layer. Local layers are read on every
// call; only remote fetches are cached.
type Source struct {
	layers       []layer
	suffix       string
	manifestPath string
	remote       *Remote
	clock        clock.Clock
	logger       *slog.Logger

	mu       sync.RWMutex
	manifest *Manifest
}

// NewSource creates a Source. Missing layer directories are tolerated and
// reported as misses.
func NewSource(opts Options) (*Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	s := &Source{
		suffix:       opts.Suffix,
		manifestPath: opts.ManifestPath,
		remote:       opts.Remote,
		clock:        clock.Or(opts.Clock),
		logger:       opts.Logger,
	}
	s.layers = []layer{
		openLayer(models.ProvenancePrimary, opts.PrimaryDir),
		openLayer(models.ProvenanceOverride, opts.OverrideDir),
	}

	m, err := LoadManifest(opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	s.manifest = m
	return s, nil
}

func openLayer(name models.Provenance, dir string) layer {
	l := layer{name: name, dir: dir}
	if dir == "" {
		l.missReason = "directory not configured"
		return l
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		l.missReason = fmt.Sprintf("directory unavailable: %s", dir)
		return l
	}
	l.store = fs
	return l
}

// Get resolves template id. A non-empty version must match the manifest
// for local layers and is required for the remote layer.
func (s *Source) Get(ctx context.Context, id, version string) (*models.Template, error) {
	if err := checkID(id); err != nil {
		return nil, apperr.Wrap(apperr.KindTemplateNotFound, err,
			fmt.Sprintf("invalid template id %q", id), "use a bare template name such as \"api\"")
	}

	manifest := s.Manifest()
	listed := manifest.Versions(id)
	resolvedVersion := version
	if resolvedVersion == "" && len(listed) > 0 {
		resolvedVersion = listed[0]
	}

	var misses []string
	for _, l := range s.layers {
		if l.store == nil {
			misses = append(misses, fmt.Sprintf("%s: %s", l.name, l.missReason))
			continue
		}
		if version != "" && len(listed) > 0 && !contains(listed, version) {
			misses = append(misses, fmt.Sprintf("%s: manifest lists %s, not %s", l.name, strings.Join(listed, ", "), version))
			continue
		}
		name := id + s.suffix
		if !l.store.Exists(name) {
			misses = append(misses, fmt.Sprintf("%s: no %s in %s", l.name, name, l.dir))
			continue
		}
		data, err := l.store.Read(name)
		if err != nil {
			misses = append(misses, fmt.Sprintf("%s: %v", l.name, err))
			continue
		}
		s.logger.Debug("templates: resolved",
			slog.String("template", id), slog.String("layer", string(l.name)))
		return &models.Template{
			ID:         id,
			Version:    resolvedVersion,
			Content:    string(data),
			Checksum:   checksum.Sum(data),
			Provenance: l.name,
			FetchedAt:  s.clock.Now(),
		}, nil
	}

	if s.remote != nil {
		t, err := s.remote.Fetch(ctx, id, resolvedVersion)
		if err == nil {
			return t, nil
		}
		if apperr.KindOf(err) != apperr.KindTemplateNotFound {
			return nil, err
		}
		misses = append(misses, fmt.Sprintf("%s: %v", models.ProvenanceRemote, err))
	} else {
		misses = append(misses, fmt.Sprintf("%s: disabled", models.ProvenanceRemote))
	}

	return nil, apperr.New(apperr.KindTemplateNotFound,
		fmt.Sprintf("template %q not found (%s)", id, strings.Join(misses, "; ")),
		fmt.Sprintf("add %s%s to the primary or override template directory", id, s.suffix))
}

// IDs lists the template ids available in local layers.
func (s *Source) IDs() []string {
	seen := map[string]bool{}
	for _, l := range s.layers {
		if l.store == nil {
			continue
		}
		files, err := l.store.List("", s.suffix)
		if err != nil {
			continue
		}
		for _, f := range files {
			if strings.Contains(f, "/") {
				continue
			}
			seen[strings.TrimSuffix(f, s.suffix)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Manifest returns the current manifest.
func (s *Source) Manifest() *Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// ManifestFunc adapts Manifest for NewRemote.
func (s *Source) ManifestFunc() func() *Manifest { return s.Manifest }

// SetRemote attaches the remote layer.
func (s *Source) SetRemote(r *Remote) { s.remote = r }

// ReloadManifest re-reads the manifest file and purges the remote cache.
// A manifest that fails to parse leaves the previous one in place.
func (s *Source) ReloadManifest() error {
	m, err := LoadManifest(s.manifestPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.manifest = m
	s.mu.Unlock()
	purged := s.Purge()
	s.logger.Info("templates: manifest reloaded",
		slog.Int("entries", len(m.Entries)), slog.Int("purged", purged))
	return nil
}

// Purge drops cached remote templates.
func (s *Source) Purge() int {
	if s.remote == nil {
		return 0
	}
	return s.remote.Purge()
}

// Watch observes the template directories and the manifest until ctx is
// cancelled. A manifest change reloads it.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("templates: watcher: %w", err)
	}
	defer w.Close()

	var manifestAbs string
	dirs := map[string]bool{}
	for _, l := range s.layers {
		if l.store != nil {
			dirs[l.store.Root()] = true
		}
	}
	if s.manifestPath != "" {
		manifestAbs, _ = filepath.Abs(s.manifestPath)
		if info, statErr := os.Stat(filepath.Dir(manifestAbs)); statErr == nil && info.IsDir() {
			dirs[filepath.Dir(manifestAbs)] = true
		}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("templates: watch %s: %w", dir, err)
		}
	}

	s.logger.Info("templates: watcher started", slog.Int("dirs", len(dirs)))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("templates: watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			switch {
			case manifestAbs != "" && ev.Name == manifestAbs:
				if err := s.ReloadManifest(); err != nil {
					s.logger.Warn("templates: manifest reload failed", slog.String("error", err.Error()))
				}
			case strings.HasSuffix(ev.Name, s.suffix):
				s.logger.Debug("templates: changed",
					slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("templates: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func checkID(id string) error {
	switch {
	case id == "":
		return errors.New("empty template id")
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."), strings.ContainsRune(id, 0):
		return errors.New("template id must not contain path separators")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
