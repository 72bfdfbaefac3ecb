/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tracking

import (
	"context"
	"errors"
	"sync"
)

// ErrUntracked is returned by Lease.Check once the lease no longer owns its
// tracking entry. Handlers treat it as a silent abort.
var ErrUntracked = errors.New("resource is no longer tracked")

// Stage tags what an active reconciliation is currently blocked on.
type Stage string

const (
	// StageActive marks a reconciliation that is not waiting on anything.
	StageActive Stage = ""
	// StageResources marks a reconciliation waiting on dependency resources.
	StageResources Stage = "resources"
	// StageJobs marks a reconciliation waiting on hook Jobs.
	StageJobs Stage = "jobs"
)

type entry struct {
	epoch uint64
	stage Stage
}

// =============================================================================
// Tracker holds one tracking entry per resource identity.
//
// A reconciliation obtains a Lease with Begin and checks it before every side
// effect. Beginning a new lease for the same key supersedes the previous one,
// and Evict drops the entry entirely. Either way the older lease observes
// that it lost ownership at its next check.
//
// This is cooperative cancellation, not mutual exclusion: work that was
// already dispatched to the cluster finishes on its own.
// =============================================================================
type Tracker struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Key builds the tracking key for a namespaced resource.
func Key(name, namespace string) string {
	return name + "." + namespace
}

// Begin starts tracking key and returns the lease that owns the entry.
func (t *Tracker) Begin(key string) *Lease {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.entries[key] = &entry{epoch: t.seq, stage: StageActive}
	return &Lease{tracker: t, key: key, epoch: t.seq}
}

// Tracked reports whether key has a tracking entry.
func (t *Tracker) Tracked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Stage returns the stage recorded for key.
func (t *Tracker) Stage(key string) (Stage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return StageActive, false
	}
	return e.stage, true
}

// Evict removes the tracking entry for key regardless of which lease owns it.
func (t *Tracker) Evict(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Keys returns every tracked key.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

func (t *Tracker) owns(key string, epoch uint64) (*entry, bool) {
	e, ok := t.entries[key]
	if !ok || e.epoch != epoch {
		return nil, false
	}
	return e, true
}

// Lease is a handle on a tracking entry held by one reconciliation.
type Lease struct {
	tracker *Tracker
	key     string
	epoch   uint64
}

// Key returns the tracking key this lease was issued for.
func (l *Lease) Key() string {
	return l.key
}

// Active reports whether the lease still owns its tracking entry.
func (l *Lease) Active() bool {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()
	_, ok := l.tracker.owns(l.key, l.epoch)
	return ok
}

// Check returns ErrUntracked when the lease is no longer active.
func (l *Lease) Check() error {
	if !l.Active() {
		return ErrUntracked
	}
	return nil
}

// SetStage records what the reconciliation is blocked on. It is a no-op for
// an inactive lease.
func (l *Lease) SetStage(stage Stage) {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()
	if e, ok := l.tracker.owns(l.key, l.epoch); ok {
		e.stage = stage
	}
}

// End removes the tracking entry if this lease still owns it.
func (l *Lease) End() {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()
	if _, ok := l.tracker.owns(l.key, l.epoch); ok {
		delete(l.tracker.entries, l.key)
	}
}

type leaseContextKey struct{}

// WithLease returns a copy of ctx carrying lease.
func WithLease(ctx context.Context, lease *Lease) context.Context {
	return context.WithValue(ctx, leaseContextKey{}, lease)
}

// LeaseFrom returns the lease carried by ctx when it was issued for key.
func LeaseFrom(ctx context.Context, key string) (*Lease, bool) {
	lease, ok := ctx.Value(leaseContextKey{}).(*Lease)
	if !ok || lease == nil || lease.key != key {
		return nil, false
	}
	return lease, true
}
