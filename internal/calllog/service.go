// Package calllog records the single, immutable outcome row of each finished job.
package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-call-center/internal/calls"

	"github.com/google/uuid"
)

// Repository finishes a job and appends its log atomically.
// It is append-only: there is no way to update or delete a log.
type Repository interface {
	FinishJob(ctx context.Context, id string, status calls.JobStatus, at time.Time, log calls.CallLog) error
}

var ErrInvalidEntry = errors.New("calllog: invalid entry")

// Entry is what the worker knows when a job ends.
type Entry struct {
	JobID     string
	ScriptID  string
	Status    calls.JobStatus
	Response  string
	AudioPath string
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record moves the job to its terminal status and stores the log in one step.
func (s *Service) Record(ctx context.Context, e Entry) (calls.CallLog, error) {
	if s.repo == nil {
		return calls.CallLog{}, errors.New("calllog: repository not configured")
	}
	if e.JobID == "" || e.ScriptID == "" || e.Response == "" {
		return calls.CallLog{}, ErrInvalidEntry
	}
	if !e.Status.Terminal() {
		return calls.CallLog{}, fmt.Errorf("%w: status %s is not terminal", ErrInvalidEntry, e.Status)
	}

	now := s.clock().UTC()
	log := calls.CallLog{
		ID:        uuid.NewString(),
		JobID:     e.JobID,
		ScriptID:  e.ScriptID,
		Response:  e.Response,
		AudioPath: e.AudioPath,
		CreatedAt: now,
	}
	if err := s.repo.FinishJob(ctx, e.JobID, e.Status, now, log); err != nil {
		return calls.CallLog{}, fmt.Errorf("calllog: record job %s: %w", e.JobID, err)
	}
	return log, nil
}
