// Package models defines the domain types shared across docgate packages.
package models

import "time"

// Provenance records which resolution layer produced a template.
type Provenance string

// Template resolution layers, in lookup order.
const (
	ProvenancePrimary  Provenance = "primary"
	ProvenanceOverride Provenance = "override"
	ProvenanceRemote   Provenance = "remote"
)

// Template is a resolved template definition.
type Template struct {
	ID         string     `json:"id"`
	Version    string     `json:"version,omitempty"`
	Content    string     `json:"-"`
	Checksum   string     `json:"checksum"`
	Provenance Provenance `json:"provenance"`
	FetchedAt  time.Time  `json:"fetched_at"`
}
