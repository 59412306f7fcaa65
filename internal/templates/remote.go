package templates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/checksum"
	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/retry"
)

// Remote fetch bounds.
const (
	MinTimeout      = 5 * time.Second
	MaxTimeout      = 10 * time.Second
	MaxRetries      = 3
	MaxTemplateSize = 1 << 20 // 1 MiB
	maxRedirects    = 5
)

var (
	errRemoteMissing  = errors.New("template not found on remote host")
	errHostNotAllowed = errors.New("host not allowed")
)

// RemoteOptions configures a Remote.
type RemoteOptions struct {
	URLPattern   string // e.g. https://host/templates/{id}/{version}.md
	AllowedHosts []string
	Timeout      time.Duration
	Retries      int
	Backoff      time.Duration
	CacheTTL     time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

type cached struct {
	tmpl models.Template
	at   time.Time
}

// Remote fetches pinned template versions from allow-listed hosts and caches
// them for a bounded time.
type Remote struct {
	pattern  string
	allowed  map[string]bool
	policy   retry.Policy
	ttl      time.Duration
	client   *http.Client
	clock    clock.Clock
	logger   *slog.Logger
	manifest func() *Manifest

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cached
}

// NewRemote creates a Remote. manifest returns the current manifest and may
// be nil.
func NewRemote(opts RemoteOptions, manifest func() *Manifest) *Remote {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if manifest == nil {
		manifest = func() *Manifest { return nil }
	}
	r := &Remote{
		pattern:  opts.URLPattern,
		allowed:  make(map[string]bool, len(opts.AllowedHosts)),
		policy:   retry.Policy{Retries: clampRetries(opts.Retries), Backoff: opts.Backoff},
		ttl:      opts.CacheTTL,
		clock:    clock.Or(opts.Clock),
		logger:   opts.Logger,
		manifest: manifest,
		cache:    make(map[string]cached),
	}
	for _, h := range opts.AllowedHosts {
		r.allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	r.client = &http.Client{
		Timeout: clampTimeout(opts.Timeout),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return r.checkHost(req.URL)
		},
	}
	return r
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

func clampRetries(n int) int {
	switch {
	case n < 0:
		return 0
	case n > MaxRetries:
		return MaxRetries
	}
	return n
}

// Fetch returns template id at the pinned version. Failures never populate
// the cache.
func (r *Remote) Fetch(ctx context.Context, id, version string) (*models.Template, error) {
	if version == "" {
		return nil, apperr.New(apperr.KindRemoteFetch,
			fmt.Sprintf("remote template %q requested without a version", id),
			"pin the template version in the request or the manifest")
	}
	key := id + "@" + version
	if t, ok := r.lookup(key); ok {
		return t, nil
	}

	v, err, shared := r.group.Do(key, func() (any, error) {
		if t, ok := r.lookup(key); ok {
			return t, nil
		}
		t, err := r.fetch(ctx, id, version)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cached{tmpl: *t, at: t.FetchedAt}
		r.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	t := *v.(*models.Template)
	if shared {
		r.logger.Debug("templates: remote fetch shared", slog.String("key", key))
	}
	return &t, nil
}

func (r *Remote) lookup(key string) (*models.Template, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if r.clock.Now().Sub(c.at) > r.ttl {
		delete(r.cache, key)
		return nil, false
	}
	t := c.tmpl
	return &t, true
}

func (r *Remote) fetch(ctx context.Context, id, version string) (*models.Template, error) {
	entry, pinned := r.manifest().Lookup(id, version)

	raw := entry.URL
	if raw == "" {
		if r.pattern == "" {
			return nil, apperr.New(apperr.KindRemoteFetch,
				"no remote url pattern configured",
				"set remote.url_pattern or give the manifest entry a url")
		}
		raw = strings.NewReplacer("{id}", url.PathEscape(id), "{version}", url.PathEscape(version)).Replace(r.pattern)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRemoteFetch, err, "invalid remote url", "fix remote.url_pattern")
	}
	if err := r.checkHost(u); err != nil {
		return nil, apperr.Wrap(apperr.KindRemoteFetch, err,
			fmt.Sprintf("remote host %q is not trusted", u.Host),
			"add the host to remote.allowed_hosts or use a local template")
	}

	var body []byte
	err = retry.Do(ctx, r.policy, func(attempt int) error {
		if attempt > 0 {
			r.logger.Debug("templates: remote retry", slog.String("url", u.String()), slog.Int("attempt", attempt))
		}
		var ferr error
		body, ferr = r.get(ctx, u.String())
		return ferr
	})
	if errors.Is(err, errRemoteMissing) {
		return nil, apperr.Wrap(apperr.KindTemplateNotFound, err,
			fmt.Sprintf("remote has no template %s@%s", id, version),
			"check the template id and version")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRemoteFetch, err,
			fmt.Sprintf("fetch %s@%s", id, version),
			"check network access to the template host, or use a local template")
	}

	sum := checksum.Sum(body)
	if pinned && entry.SHA256 != "" && !checksum.Match(body, entry.SHA256) {
		r.logger.Warn("templates: remote checksum mismatch",
			slog.String("template", id), slog.String("version", version),
			slog.String("expected", entry.SHA256), slog.String("actual", sum))
		return nil, apperr.New(apperr.KindRemoteFetch,
			fmt.Sprintf("checksum mismatch for %s@%s", id, version),
			"update the manifest sha256 or investigate the template host")
	}

	r.logger.Info("templates: remote fetched",
		slog.String("template", id), slog.String("version", version), slog.Int("bytes", len(body)))
	return &models.Template{
		ID:         id,
		Version:    version,
		Content:    string(body),
		Checksum:   sum,
		Provenance: models.ProvenanceRemote,
		FetchedAt:  r.clock.Now(),
	}, nil
}

func (r *Remote) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, errHostNotAllowed) {
			return nil, retry.Permanent(err)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(errRemoteMissing)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, retry.Permanent(fmt.Errorf("download failed: HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxTemplateSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > MaxTemplateSize {
		return nil, retry.Permanent(fmt.Errorf("template too large: exceeds %d bytes", MaxTemplateSize))
	}
	return data, nil
}

// checkHost rejects non-http schemes and hosts outside the allow-list.
func (r *Remote) checkHost(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s (only http/https)", u.Scheme)
	}
	if r.allowed[strings.ToLower(u.Host)] || r.allowed[strings.ToLower(u.Hostname())] {
		return nil
	}
	return fmt.Errorf("%w: %s", errHostNotAllowed, u.Hostname())
}

// Purge drops every cached template and returns how many were dropped.
func (r *Remote) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.cache)
	r.cache = make(map[string]cached)
	return n
}

// Len returns the number of cached templates, including expired ones not yet
// evicted.
func (r *Remote) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
