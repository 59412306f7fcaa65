// Package testutil provides shared test helpers for setting up template
// directories, sandboxes and audit databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/docgate/internal/audit"
)

// APITemplate is a minimal api template with three required sections.
const APITemplate = "# {{title}}\n\n## Overview\n\n## API\n\n## Examples\n"

// ValidAPIDoc passes APITemplate at every tier.
const ValidAPIDoc = `---
title: Payments API
version: 1.2.0
---
# Payments API

## Overview

- Accepts card payments.

## API

| Method | Path |
|---|---|
| POST | /payments |

## Examples

- POST /payments
`

// Workspace is a temporary layout with a template directory and an empty
// sandbox root.
type Workspace struct {
	Dir       string
	Templates string
	Sandbox   string
}

// TestWorkspace creates a Workspace whose template directory holds api.md
// plus any extra templates keyed by id.
func TestWorkspace(t *testing.T, extra map[string]string) Workspace {
	t.Helper()
	dir := t.TempDir()
	ws := Workspace{
		Dir:       dir,
		Templates: filepath.Join(dir, "templates"),
		Sandbox:   filepath.Join(dir, "workspace"),
	}
	for _, d := range []string{ws.Templates, ws.Sandbox} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{"api": APITemplate}
	for id, body := range extra {
		files[id] = body
	}
	for id, body := range files {
		if err := os.WriteFile(filepath.Join(ws.Templates, id+".md"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return ws
}

// TestAuditDB creates a temporary audit database that is automatically
// closed.
func TestAuditDB(t *testing.T) *audit.SQLite {
	t.Helper()
	db, err := audit.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
