package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/recordlens/internal/record"
)

// job is one queued run of a session, starting at a given stage.
type job struct {
	SessionID string
	UserID    string
	Start     record.Stage

	// data is the uploaded document when the run starts from a fresh
	// submission; resumed runs read the archive instead.
	data []byte
}

// runInfo describes an in-flight run.
type runInfo struct {
	Start     record.Stage
	StartedAt time.Time
}

// Registry is the per-process single-flight set of running sessions.
type Registry struct {
	mu   sync.Mutex
	runs map[string]runInfo
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]runInfo)}
}

// TryAcquire marks id as running. It reports false if a run is already
// registered for id.
func (r *Registry) TryAcquire(id string, start record.Stage, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; ok {
		return false
	}
	r.runs[id] = runInfo{Start: start, StartedAt: now}
	return true
}

// Release ends the run registered for id.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// Running reports whether id has a run in this process.
func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

// Len returns the number of in-flight runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
