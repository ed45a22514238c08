package syncer

import (
	"sync"
	"time"

	"github.com/grmlab/gramscope/pkg/gram"
)

// Registry is the process-wide map from account id to live sync status.
// Writers are the background sync runs; readers are status pollers. Every
// mutation happens under the lock so pollers always see a consistent record.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*gram.SyncStatus
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*gram.SyncStatus)}
}

// Get returns a copy of the account's status. ok is false when no sync has
// ever been tracked for the account in this process.
func (r *Registry) Get(accountID string) (gram.SyncStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[accountID]
	if !ok {
		return gram.SyncStatus{AccountID: accountID}, false
	}
	return *s, true
}

// begin atomically claims the syncing slot for an account. Returns false if
// a sync is already in flight — the caller must not proceed.
func (r *Registry) begin(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[accountID]; ok && s.IsSyncing {
		return false
	}
	last := r.lastSyncLocked(accountID)
	r.m[accountID] = &gram.SyncStatus{
		AccountID:   accountID,
		IsSyncing:   true,
		Progress:    0,
		CurrentTask: "Starting sync...",
		LastSync:    last,
	}
	return true
}

func (r *Registry) lastSyncLocked(accountID string) *time.Time {
	if s, ok := r.m[accountID]; ok {
		return s.LastSync
	}
	return nil
}

// update mutates the record in place while a run progresses.
func (r *Registry) update(accountID string, progress int, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[accountID]; ok {
		s.Progress = progress
		s.CurrentTask = task
	}
}

// finish marks a terminal state. Every exit path of a run must reach this so
// no record is ever stuck with IsSyncing set.
func (r *Registry) finish(accountID string, progress int, task string, lastSync *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[accountID]
	if !ok {
		s = &gram.SyncStatus{AccountID: accountID}
		r.m[accountID] = s
	}
	s.IsSyncing = false
	s.Progress = progress
	s.CurrentTask = task
	if lastSync != nil {
		s.LastSync = lastSync
	}
}

// syncing reports whether a run is currently in flight for the account.
func (r *Registry) syncing(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[accountID]
	return ok && s.IsSyncing
}
