package templates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/docgate/internal/apperr"
	"github.com/starford/docgate/internal/checksum"
	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/models"
)

const remoteBody = "# {{title}}\n\n## Overview\n\n## API\n\n## Examples\n"

// fakeHost serves /templates/{id}/{version}.md. The file segment is matched
// whole because chi stops a param at the first dot. failures answers the first N
// requests with 503.
type fakeHost struct {
	srv      *httptest.Server
	hits     atomic.Int32
	failures atomic.Int32
	delay    time.Duration
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{}
	r := chi.NewRouter()
	r.Get("/templates/{id}/{file}", func(w http.ResponseWriter, req *http.Request) {
		h.hits.Add(1)
		if !strings.HasSuffix(chi.URLParam(req, "file"), ".md") {
			http.NotFound(w, req)
			return
		}
		if h.delay > 0 {
			time.Sleep(h.delay)
		}
		if h.failures.Load() > 0 {
			h.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch chi.URLParam(req, "id") {
		case "api":
			_, _ = w.Write([]byte(remoteBody))
		case "forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "huge":
			_, _ = w.Write(make([]byte, MaxTemplateSize+10))
		default:
			http.NotFound(w, req)
		}
	})
	r.Get("/redirect", func(w http.ResponseWriter, req *http.Request) {
		h.hits.Add(1)
		http.Redirect(w, req, "http://evil.example.com/templates/api/1.0.0.md", http.StatusFound)
	})
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) hostname(t *testing.T) string {
	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)
	return u.Hostname()
}

func newTestRemote(t *testing.T, h *fakeHost, clk clock.Clock, m *Manifest) *Remote {
	t.Helper()
	return NewRemote(RemoteOptions{
		URLPattern:   h.srv.URL + "/templates/{id}/{version}.md",
		AllowedHosts: []string{h.hostname(t)},
		Retries:      2,
		Backoff:      time.Millisecond,
		CacheTTL:     time.Minute,
		Clock:        clk,
	}, func() *Manifest { return m })
}

func TestRemote_FetchAndCache(t *testing.T) {
	h := newFakeHost(t)
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newTestRemote(t, h, clk, nil)

	tmpl, err := r.Fetch(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, remoteBody, tmpl.Content)
	assert.Equal(t, models.ProvenanceRemote, tmpl.Provenance)
	assert.Equal(t, checksum.String(remoteBody), tmpl.Checksum)
	assert.Equal(t, "1.0.0", tmpl.Version)

	_, err = r.Fetch(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.hits.Load(), "second fetch served from cache")

	clk.Advance(time.Minute + time.Second)
	_, err = r.Fetch(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.hits.Load(), "expired entry refetched")
}

func TestRemote_RequiresVersion(t *testing.T) {
	h := newFakeHost(t)
	r := newTestRemote(t, h, nil, nil)

	_, err := r.Fetch(context.Background(), "api", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRemoteFetch, apperr.KindOf(err))
	assert.Zero(t, h.hits.Load())
}

func TestRemote_RetriesServerErrors(t *testing.T) {
	h := newFakeHost(t)
	h.failures.Store(2)
	r := newTestRemote(t, h, nil, nil)

	_, err := r.Fetch(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	assert.EqualValues(t, 3, h.hits.Load())
}

func TestRemote_RetriesExhausted(t *testing.T) {
	h := newFakeHost(t)
	h.failures.Store(10)
	r := newTestRemote(t, h, nil, nil)

	_, err := r.Fetch(context.Background(), "api", "1.0.0")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrRemoteFetch))
	assert.EqualValues(t, 3, h.hits.Load())
	assert.Zero(t, r.Len(), "failures are not cached")
}

func TestRemote_ClientErrorsAreTerminal(t *testing.T) {
	h := newFakeHost(t)
	r := newTestRemote(t, h, nil, nil)

	_, err := r.Fetch(context.Background(), "forbidden", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRemoteFetch, apperr.KindOf(err))
	assert.EqualValues(t, 1, h.hits.Load())

	_, err = r.Fetch(context.Background(), "missing", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTemplateNotFound, apperr.KindOf(err))
	assert.EqualValues(t, 2, h.hits.Load())
}

func TestRemote_SizeLimit(t *testing.T) {
	h := newFakeHost(t)
	r := newTestRemote(t, h, nil, nil)

	_, err := r.Fetch(context.Background(), "huge", "1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
	assert.EqualValues(t, 1, h.hits.Load())
}

func TestRemote_ChecksumPinned(t *testing.T) {
	h := newFakeHost(t)

	good := &Manifest{Entries: []ManifestEntry{{ID: "api", Version: "1.0.0", SHA256: "sha256:" + checksum.String(remoteBody)}}}
	_, err := newTestRemote(t, h, nil, good).Fetch(context.Background(), "api", "1.0.0")
	require.NoError(t, err)

	bad := &Manifest{Entries: []ManifestEntry{{ID: "api", Version: "1.0.0", SHA256: checksum.String("tampered")}}}
	r := newTestRemote(t, h, nil, bad)
	_, err = r.Fetch(context.Background(), "api", "1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Zero(t, r.Len())
}

func TestRemote_UntrustedHost(t *testing.T) {
	h := newFakeHost(t)
	r := NewRemote(RemoteOptions{
		URLPattern:   h.srv.URL + "/templates/{id}/{version}.md",
		AllowedHosts: []string{"templates.example.com"},
	}, nil)

	_, err := r.Fetch(context.Background(), "api", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRemoteFetch, apperr.KindOf(err))
	assert.Zero(t, h.hits.Load())
}

func TestRemote_RedirectToUntrustedHost(t *testing.T) {
	h := newFakeHost(t)
	m := &Manifest{Entries: []ManifestEntry{{ID: "api", Version: "1.0.0", URL: h.srv.URL + "/redirect"}}}
	r := newTestRemote(t, h, nil, m)

	_, err := r.Fetch(context.Background(), "api", "1.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host not allowed")
	assert.EqualValues(t, 1, h.hits.Load(), "redirect rejection is not retried")
}

func TestRemote_ConcurrentFetchesCollapse(t *testing.T) {
	h := newFakeHost(t)
	h.delay = 50 * time.Millisecond
	r := newTestRemote(t, h, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Fetch(context.Background(), "api", "1.0.0")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, h.hits.Load())
}

func TestRemote_Purge(t *testing.T) {
	h := newFakeHost(t)
	r := newTestRemote(t, h, nil, nil)
	_, err := r.Fetch(context.Background(), "api", "1.0.0")
	require.NoError(t, err)

	assert.Equal(t, 1, r.Purge())
	assert.Zero(t, r.Len())
}

func TestClamps(t *testing.T) {
	assert.Equal(t, MinTimeout, clampTimeout(0))
	assert.Equal(t, 7*time.Second, clampTimeout(7*time.Second))
	assert.Equal(t, MaxTimeout, clampTimeout(time.Minute))
	assert.Equal(t, 0, clampRetries(-1))
	assert.Equal(t, 2, clampRetries(2))
	assert.Equal(t, MaxRetries, clampRetries(9))
}
