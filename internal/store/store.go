// Package store persists credentials, scripts, jobs and call logs.
package store

import (
	"context"
	"time"

	"ai-call-center/internal/calls"
)

var (
	ErrNotFound          = calls.ErrNotFound
	ErrInvalidTransition = calls.ErrInvalidTransition
	ErrDuplicateLog      = calls.ErrDuplicateLog
)

// DefaultSnapshotLimit bounds dashboard reads when the caller passes no limit.
const DefaultSnapshotLimit = 100

// Repository is the persistence contract shared by the gateway, worker and dashboard.
//
// Job status changes go through ClaimJob and FinishJob only, so the
// Queued -> Running -> terminal ordering is enforced at the storage layer.
type Repository interface {
	Ping(ctx context.Context) error

	CreateCredential(ctx context.Context, c calls.Credential) error
	GetCredential(ctx context.Context, id string) (calls.Credential, error)
	ListCredentials(ctx context.Context) ([]calls.Credential, error)

	CreateScript(ctx context.Context, s calls.Script) error
	GetScript(ctx context.Context, id string) (calls.Script, error)
	ListScripts(ctx context.Context) ([]calls.Script, error)

	// CreateSubmission stores a credential, its script and the queued job atomically.
	CreateSubmission(ctx context.Context, c calls.Credential, s calls.Script, j calls.Job) error
	CreateJob(ctx context.Context, j calls.Job) error
	GetJob(ctx context.Context, id string) (calls.Job, error)

	// ClaimJob moves a Queued job to Running. It fails with ErrInvalidTransition
	// when the job is in any other status.
	ClaimJob(ctx context.Context, id string, at time.Time) (calls.Job, error)
	// FinishJob moves a Running job to a terminal status and appends its log in one step.
	FinishJob(ctx context.Context, id string, status calls.JobStatus, at time.Time, log calls.CallLog) error

	// ListJobsByStatus returns jobs oldest first.
	ListJobsByStatus(ctx context.Context, status calls.JobStatus) ([]calls.Job, error)
	// QueueSnapshot and LogSnapshot return rows newest first.
	QueueSnapshot(ctx context.Context, limit int) ([]calls.QueueEntry, error)
	LogSnapshot(ctx context.Context, limit int) ([]calls.LogEntry, error)
	CountJobsByStatus(ctx context.Context) (map[calls.JobStatus]int, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultSnapshotLimit
	}
	return limit
}
