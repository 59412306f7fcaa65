// Package guard holds the cross-call policies applied before a write:
// duplicate suppression and the generate-before-write workflow marker.
// Guards keep their state in memory behind one mutex each and expire
// records lazily against an injectable clock.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starford/docgate/internal/checksum"
	"github.com/starford/docgate/internal/clock"
)

// Default guard windows.
const (
	DefaultDuplicateWindow   = 30 * time.Second
	DefaultRapidChangeWindow = 5 * time.Second
)

// DuplicateCheck is the verdict of Duplicate.Check.
type DuplicateCheck[R any] struct {
	IsDuplicate    bool          `json:"is_duplicate"`
	Reason         string        `json:"reason,omitempty"`
	Cached         R             `json:"cached_result"`
	ContentChanged bool          `json:"content_changed"`
	RapidChange    bool          `json:"rapid_change"`
	Age            time.Duration `json:"age"`
}

type dupRecord[R any] struct {
	hash   string
	at     time.Time
	result R
}

// Duplicate suppresses repeated writes of identical content to the same
// path. It keeps one record per path.
type Duplicate[R any] struct {
	window time.Duration
	rapid  time.Duration
	clock  clock.Clock

	mu       sync.Mutex
	records  map[string]dupRecord[R]
	inflight map[string]chan struct{}
}

// NewDuplicate creates a guard. Zero windows take the defaults; a nil clock
// means the wall clock.
func NewDuplicate[R any](window, rapid time.Duration, c clock.Clock) *Duplicate[R] {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	if rapid <= 0 {
		rapid = DefaultRapidChangeWindow
	}
	return &Duplicate[R]{
		window:   window,
		rapid:    rapid,
		clock:    clock.Or(c),
		records:  make(map[string]dupRecord[R]),
		inflight: make(map[string]chan struct{}),
	}
}

// Check compares content against the record stored for path.
func (d *Duplicate[R]) Check(path, content string) DuplicateCheck[R] {
	hash := checksum.String(content)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.check(path, hash)
}

// check must be called with d.mu held.
func (d *Duplicate[R]) check(path, hash string) DuplicateCheck[R] {
	var out DuplicateCheck[R]
	rec, ok := d.records[path]
	if !ok {
		return out
	}
	out.Age = d.clock.Now().Sub(rec.at)

	if rec.hash == hash {
		if out.Age <= d.window {
			out.IsDuplicate = true
			out.Cached = rec.result
			out.Reason = fmt.Sprintf("identical content written %s ago", out.Age.Round(time.Millisecond))
		}
		return out
	}

	out.ContentChanged = true
	if out.Age <= d.rapid {
		out.RapidChange = true
		out.Reason = fmt.Sprintf("content changed %s after the previous write", out.Age.Round(time.Millisecond))
	}
	return out
}

// Claim is an exclusive hold on a path between Check and Cache. Exactly one
// of Commit or Release settles it; later calls are no-ops.
type Claim[R any] struct {
	d       *Duplicate[R]
	path    string
	hash    string
	done    chan struct{}
	settled bool
}

// Claim checks content against path and, unless it is a duplicate, takes the
// path for the caller. A caller that finds the path held waits for the holder
// to settle and then checks again, so concurrent identical writes collapse
// onto the first one. The returned claim is nil when the check is a
// duplicate.
func (d *Duplicate[R]) Claim(ctx context.Context, path, content string) (DuplicateCheck[R], *Claim[R], error) {
	hash := checksum.String(content)
	for {
		d.mu.Lock()
		if wait, busy := d.inflight[path]; busy {
			d.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return DuplicateCheck[R]{}, nil, ctx.Err()
			}
		}
		out := d.check(path, hash)
		if out.IsDuplicate {
			d.mu.Unlock()
			return out, nil, nil
		}
		c := &Claim[R]{d: d, path: path, hash: hash, done: make(chan struct{})}
		d.inflight[path] = c.done
		d.mu.Unlock()
		return out, c, nil
	}
}

// Commit records result for the claimed path and releases it.
func (c *Claim[R]) Commit(result R) {
	if c == nil {
		return
	}
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.settled {
		return
	}
	d.records[c.path] = dupRecord[R]{hash: c.hash, at: d.clock.Now(), result: result}
	c.settle()
}

// Release gives the path up without recording anything.
func (c *Claim[R]) Release() {
	if c == nil {
		return
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if !c.settled {
		c.settle()
	}
}

// settle must be called with d.mu held.
func (c *Claim[R]) settle() {
	c.settled = true
	if c.d.inflight[c.path] == c.done {
		delete(c.d.inflight, c.path)
	}
	close(c.done)
}

// Cache stores result as the record for path, replacing any previous one.
func (d *Duplicate[R]) Cache(path, content string, result R) {
	rec := dupRecord[R]{hash: checksum.String(content), result: result}

	d.mu.Lock()
	rec.at = d.clock.Now()
	d.records[path] = rec
	d.mu.Unlock()
}

// Cleanup removes records older than maxAge and returns how many were
// removed. maxAge <= 0 means the duplicate window.
func (d *Duplicate[R]) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = d.window
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	n := 0
	for path, rec := range d.records {
		if now.Sub(rec.at) > maxAge {
			delete(d.records, path)
			n++
		}
	}
	return n
}

// Reset drops every record.
func (d *Duplicate[R]) Reset() {
	d.mu.Lock()
	d.records = make(map[string]dupRecord[R])
	d.mu.Unlock()
}

// Len returns the number of stored records.
func (d *Duplicate[R]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}
