package enforcer

import (
	"time"

	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/guard"
	"github.com/starford/docgate/internal/schema"
)

// State holds the mutable caches shared by every Enforce call. Each member
// serializes its own access.
type State struct {
	Schemas    *schema.Builder
	Duplicates *guard.Duplicate[*Result]
	Workflow   *guard.Workflow
}

// GuardOptions sizes the guard windows. Zero values take the guard defaults.
type GuardOptions struct {
	DuplicateWindow   time.Duration
	RapidChangeWindow time.Duration
	WorkflowTTL       time.Duration
}

// NewState builds empty caches.
func NewState(b *schema.Builder, g GuardOptions, c clock.Clock) *State {
	return &State{
		Schemas:    b,
		Duplicates: guard.NewDuplicate[*Result](g.DuplicateWindow, g.RapidChangeWindow, c),
		Workflow:   guard.NewWorkflow(g.WorkflowTTL, c),
	}
}

// CleanupStats reports how many records a Cleanup call evicted.
type CleanupStats struct {
	Duplicates int `json:"duplicates"`
	Workflow   int `json:"workflow"`
}

func (s *State) cleanup(maxAge time.Duration) CleanupStats {
	return CleanupStats{
		Duplicates: s.Duplicates.Cleanup(maxAge),
		Workflow:   s.Workflow.Cleanup(),
	}
}

func (s *State) reset() {
	s.Schemas.Reset()
	s.Duplicates.Reset()
	s.Workflow.Reset()
}
