package guard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starford/docgate/internal/clock"
)

// DefaultWorkflowTTL bounds how long a generation marker stays valid.
const DefaultWorkflowTTL = 1800 * time.Second

// Policy decides what happens when a write arrives without a generation
// marker.
type Policy string

const (
	// PolicyAdvisory logs and warns.
	PolicyAdvisory Policy = "ADVISORY"
	// PolicyStrict blocks the write.
	PolicyStrict Policy = "STRICT"
)

// ParsePolicy parses a policy name case-insensitively. Empty means ADVISORY.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(PolicyAdvisory):
		return PolicyAdvisory, nil
	case string(PolicyStrict):
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("guard: unknown workflow policy %q", s)
}

// Marker records that a document was generated for a path.
type Marker struct {
	TemplateID string    `json:"template_id"`
	At         time.Time `json:"at"`
}

// Workflow tracks "generated before written" markers per path.
type Workflow struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	markers map[string]Marker
}

// NewWorkflow creates a Workflow guard. ttl <= 0 means DefaultWorkflowTTL.
func NewWorkflow(ttl time.Duration, c clock.Clock) *Workflow {
	if ttl <= 0 {
		ttl = DefaultWorkflowTTL
	}
	return &Workflow{ttl: ttl, clock: clock.Or(c), markers: make(map[string]Marker)}
}

// Mark records a generation for path.
func (w *Workflow) Mark(path, templateID string) {
	w.mu.Lock()
	w.markers[path] = Marker{TemplateID: templateID, At: w.clock.Now()}
	w.mu.Unlock()
}

// Lookup returns the live marker for path. Expired markers are evicted.
func (w *Workflow) Lookup(path string) (Marker, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.markers[path]
	if !ok {
		return Marker{}, false
	}
	if w.clock.Now().Sub(m.At) > w.ttl {
		delete(w.markers, path)
		return Marker{}, false
	}
	return m, true
}

// IsMarked reports whether path has a live marker.
func (w *Workflow) IsMarked(path string) bool {
	_, ok := w.Lookup(path)
	return ok
}

// Clear removes the marker for path.
func (w *Workflow) Clear(path string) {
	w.mu.Lock()
	delete(w.markers, path)
	w.mu.Unlock()
}

// Cleanup evicts every expired marker and returns how many were removed.
func (w *Workflow) Cleanup() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	n := 0
	for path, m := range w.markers {
		if now.Sub(m.At) > w.ttl {
			delete(w.markers, path)
			n++
		}
	}
	return n
}

// Reset drops every marker.
func (w *Workflow) Reset() {
	w.mu.Lock()
	w.markers = make(map[string]Marker)
	w.mu.Unlock()
}

// Len returns the number of stored markers, live or not yet evicted.
func (w *Workflow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.markers)
}
