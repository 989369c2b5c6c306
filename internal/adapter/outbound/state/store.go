package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/fault"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
)

// ContextFileStore implements tenant.Repository[policy.StoredContext] on a
// JSON file. Reads parse the file each time, so edits made by another
// process are visible. Writes are read-modify-write under the in-process
// mutex and a cross-process flock.
type ContextFileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewContextFileStore creates a store for the file at path. The file is
// created on first write.
func NewContextFileStore(path string, logger *slog.Logger) *ContextFileStore {
	return &ContextFileStore{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Load reads and parses the contexts file. A missing file yields an empty
// document. Warns if the file has permissions more open than 0600.
func (s *ContextFileStore) Load() (*ContextsFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.empty(), nil
		}
		return nil, fault.Unavailable("read contexts file", err)
	}

	// Skip on Windows where Unix file permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("contexts file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var doc ContextsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse contexts file: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("parse contexts file: unsupported version %q", doc.Version)
	}
	return &doc, nil
}

// Get returns the stored context with id under tenantID.
func (s *ContextFileStore) Get(ctx context.Context, tenantID, id string) (policy.StoredContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.Load()
	if err != nil {
		return policy.StoredContext{}, false, err
	}
	i := doc.find(tenantID, id)
	if i < 0 {
		return policy.StoredContext{}, false, nil
	}
	return doc.Contexts[i], true, nil
}

// Owner returns the tenant owning id.
func (s *ContextFileStore) Owner(ctx context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.Load()
	if err != nil {
		return "", false, err
	}
	owner, ok := doc.owner(id)
	return owner, ok, nil
}

// Put inserts or replaces sc. The ownership check and the write happen
// under the same lock.
func (s *ContextFileStore) Put(ctx context.Context, sc policy.StoredContext) error {
	return s.update(func(doc *ContextsFile) error {
		if owner, ok := doc.owner(sc.ID); ok && owner != sc.EntityTenant() {
			return fault.TenantMismatch(fmt.Sprintf("policy context %q", sc.ID), sc.EntityTenant(), owner)
		}
		stored := sc
		stored.Context = sc.Context.Clone()
		if i := doc.find(sc.EntityTenant(), sc.ID); i >= 0 {
			doc.Contexts[i] = stored
			return nil
		}
		doc.Contexts = append(doc.Contexts, stored)
		return nil
	})
}

// Remove deletes id under tenantID.
func (s *ContextFileStore) Remove(ctx context.Context, tenantID, id string) (bool, error) {
	removed := false
	err := s.update(func(doc *ContextsFile) error {
		i := doc.find(tenantID, id)
		if i < 0 {
			return errNoChange
		}
		doc.Contexts = append(doc.Contexts[:i], doc.Contexts[i+1:]...)
		removed = true
		return nil
	})
	return removed, err
}

// List returns tenantID's contexts selected by sel, ordered by id.
func (s *ContextFileStore) List(ctx context.Context, tenantID string, sel tenant.Selector) ([]policy.StoredContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []policy.StoredContext
	for _, sc := range doc.Contexts {
		if sc.EntityTenant() == tenantID && sel.Matches(sc.EntityScope()) {
			out = append(out, sc)
		}
	}
	return out, nil
}

// All returns every stored context regardless of tenant, for operator
// tooling such as the retention scheduler.
func (s *ContextFileStore) All(ctx context.Context) ([]policy.StoredContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	return doc.Contexts, nil
}

// Exists returns true if the contexts file exists on disk.
func (s *ContextFileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *ContextFileStore) Path() string {
	return s.path
}

// errNoChange lets an update callback skip the write.
var errNoChange = errors.New("no change")

// update runs fn on the current document and persists the result.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Load the current file
//  4. Apply fn
//  5. Copy current file to path+".bak"
//  6. Write path+".tmp" (0600), fsync, rename over path
func (s *ContextFileStore) update(fn func(*ContextsFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fault.Unavailable("open lock file", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fault.Unavailable("acquire file lock", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	doc, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}

	sort.Slice(doc.Contexts, func(i, j int) bool {
		a, b := doc.Contexts[i], doc.Contexts[j]
		if a.EntityTenant() != b.EntityTenant() {
			return a.EntityTenant() < b.EntityTenant()
		}
		return a.ID < b.ID
	})
	doc.UpdatedAt = s.now().UTC()

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		if writeErr := os.WriteFile(s.path+".bak", currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal contexts file: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return fault.Unavailable("write contexts file", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on contexts file", "error", err)
	}

	s.logger.Debug("contexts file saved", "path", s.path, "contexts", len(doc.Contexts))
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *ContextFileStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to contexts file: %w", err)
	}
	return nil
}

func (s *ContextFileStore) empty() *ContextsFile {
	now := s.now().UTC()
	return &ContextsFile{
		Version:   FormatVersion,
		Contexts:  []policy.StoredContext{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var _ tenant.Repository[policy.StoredContext] = (*ContextFileStore)(nil)
