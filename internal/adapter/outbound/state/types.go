// Package state provides file-based persistence for administrator-edited
// policy contexts.
//
// The contexts file is a single JSON document rewritten atomically on
// every change, with a .bak copy of the previous version and an exclusive
// flock on a sibling .lock file for cross-process writers.
package state

import (
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
)

// FormatVersion is the current schema version of the contexts file.
const FormatVersion = "1"

// ContextsFile is the top-level structure persisted in the contexts file.
type ContextsFile struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Contexts are the stored policy contexts, ordered by tenant then id.
	Contexts []policy.StoredContext `json:"contexts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// find returns the index of (tenantID, id), or -1.
func (f *ContextsFile) find(tenantID, id string) int {
	for i, sc := range f.Contexts {
		if sc.ID == id && sc.EntityTenant() == tenantID {
			return i
		}
	}
	return -1
}

// owner returns the tenant holding id.
func (f *ContextsFile) owner(id string) (string, bool) {
	for _, sc := range f.Contexts {
		if sc.ID == id {
			return sc.EntityTenant(), true
		}
	}
	return "", false
}
