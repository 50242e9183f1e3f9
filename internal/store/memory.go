package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-call-center/internal/calls"
)

// MemoryRepo is an in-memory Repository for local runs and tests.
// Insertion order stands in for created_at ordering.
type MemoryRepo struct {
	mu sync.RWMutex

	credentials map[string]calls.Credential
	credOrder   []string
	scripts     map[string]calls.Script
	scriptOrder []string
	jobs        map[string]calls.Job
	jobOrder    []string
	logs        []calls.CallLog
	logByJob    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		credentials: map[string]calls.Credential{},
		scripts:     map[string]calls.Script{},
		jobs:        map[string]calls.Job{},
		logByJob:    map[string]struct{}{},
	}
}

func (r *MemoryRepo) Ping(context.Context) error { return nil }

func (r *MemoryRepo) CreateCredential(_ context.Context, c calls.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCredential(c)
}

func (r *MemoryRepo) putCredential(c calls.Credential) error {
	if _, ok := r.credentials[c.ID]; ok {
		return fmt.Errorf("store: credential %s already exists", c.ID)
	}
	r.credentials[c.ID] = c
	r.credOrder = append(r.credOrder, c.ID)
	return nil
}

func (r *MemoryRepo) GetCredential(_ context.Context, id string) (calls.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credentials[id]
	if !ok {
		return calls.Credential{}, fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (r *MemoryRepo) ListCredentials(context.Context) ([]calls.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]calls.Credential, 0, len(r.credOrder))
	for i := len(r.credOrder) - 1; i >= 0; i-- {
		out = append(out, r.credentials[r.credOrder[i]])
	}
	return out, nil
}

func (r *MemoryRepo) CreateScript(_ context.Context, s calls.Script) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putScript(s)
}

func (r *MemoryRepo) putScript(s calls.Script) error {
	if _, ok := r.credentials[s.CredentialID]; !ok {
		return fmt.Errorf("credential %s: %w", s.CredentialID, ErrNotFound)
	}
	if _, ok := r.scripts[s.ID]; ok {
		return fmt.Errorf("store: script %s already exists", s.ID)
	}
	r.scripts[s.ID] = s
	r.scriptOrder = append(r.scriptOrder, s.ID)
	return nil
}

func (r *MemoryRepo) GetScript(_ context.Context, id string) (calls.Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[id]
	if !ok {
		return calls.Script{}, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (r *MemoryRepo) ListScripts(context.Context) ([]calls.Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]calls.Script, 0, len(r.scriptOrder))
	for i := len(r.scriptOrder) - 1; i >= 0; i-- {
		out = append(out, r.scripts[r.scriptOrder[i]])
	}
	return out, nil
}

func (r *MemoryRepo) CreateSubmission(_ context.Context, c calls.Credential, s calls.Script, j calls.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.credentials[c.ID]; ok {
		return fmt.Errorf("store: credential %s already exists", c.ID)
	}
	if _, ok := r.scripts[s.ID]; ok {
		return fmt.Errorf("store: script %s already exists", s.ID)
	}
	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("store: job %s already exists", j.ID)
	}
	// All checks pass before the first write, so the three inserts are all-or-nothing.
	_ = r.putCredential(c)
	_ = r.putScript(s)
	return r.putJob(j)
}

func (r *MemoryRepo) CreateJob(_ context.Context, j calls.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putJob(j)
}

func (r *MemoryRepo) putJob(j calls.Job) error {
	if _, ok := r.scripts[j.ScriptID]; !ok {
		return fmt.Errorf("script %s: %w", j.ScriptID, ErrNotFound)
	}
	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("store: job %s already exists", j.ID)
	}
	if j.Status != calls.JobStatusQueued {
		return fmt.Errorf("store: new job must be %s, got %s", calls.JobStatusQueued, j.Status)
	}
	r.jobs[j.ID] = j
	r.jobOrder = append(r.jobOrder, j.ID)
	return nil
}

func (r *MemoryRepo) GetJob(_ context.Context, id string) (calls.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return calls.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (r *MemoryRepo) ClaimJob(_ context.Context, id string, at time.Time) (calls.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return calls.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err := calls.ValidateTransition(j.Status, calls.JobStatusRunning); err != nil {
		return calls.Job{}, fmt.Errorf("job %s: %w", id, err)
	}
	j.Status = calls.JobStatusRunning
	j.UpdatedAt = at
	r.jobs[id] = j
	return j, nil
}

func (r *MemoryRepo) FinishJob(_ context.Context, id string, status calls.JobStatus, at time.Time, log calls.CallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err := calls.ValidateTransition(j.Status, status); err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	if _, ok := r.logByJob[id]; ok {
		return fmt.Errorf("job %s: %w", id, ErrDuplicateLog)
	}
	j.Status = status
	j.UpdatedAt = at
	r.jobs[id] = j
	r.logs = append(r.logs, log)
	r.logByJob[id] = struct{}{}
	return nil
}

func (r *MemoryRepo) ListJobsByStatus(_ context.Context, status calls.JobStatus) ([]calls.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []calls.Job
	for _, id := range r.jobOrder {
		if j := r.jobs[id]; j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *MemoryRepo) QueueSnapshot(_ context.Context, limit int) ([]calls.QueueEntry, error) {
	limit = normalizeLimit(limit)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]calls.QueueEntry, 0, min(limit, len(r.jobOrder)))
	for i := len(r.jobOrder) - 1; i >= 0 && len(out) < limit; i-- {
		j := r.jobs[r.jobOrder[i]]
		s := r.scripts[j.ScriptID]
		out = append(out, calls.QueueEntry{Job: j, Locale: s.Locale, ScriptText: s.Text})
	}
	return out, nil
}

func (r *MemoryRepo) LogSnapshot(_ context.Context, limit int) ([]calls.LogEntry, error) {
	limit = normalizeLimit(limit)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]calls.LogEntry, 0, min(limit, len(r.logs)))
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := r.logs[i]
		out = append(out, calls.LogEntry{CallLog: l, Locale: r.scripts[l.ScriptID].Locale})
	}
	return out, nil
}

func (r *MemoryRepo) CountJobsByStatus(context.Context) (map[calls.JobStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[calls.JobStatus]int, len(calls.Statuses))
	for _, s := range calls.Statuses {
		out[s] = 0
	}
	for _, j := range r.jobs {
		out[j.Status]++
	}
	return out, nil
}
