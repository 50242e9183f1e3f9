// Package reporting renders read-only views of the queue and call logs for operators.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-call-center/internal/calls"
)

// Repository is the read side of the job store.
// Snapshots are newest-first and never mutate state.
type Repository interface {
	QueueSnapshot(ctx context.Context, limit int) ([]calls.QueueEntry, error)
	LogSnapshot(ctx context.Context, limit int) ([]calls.LogEntry, error)
	CountJobsByStatus(ctx context.Context) (map[calls.JobStatus]int, error)
}

type Service struct {
	repo Repository
	loc  *time.Location
}

// NewService renders timestamps in loc, or UTC when loc is nil.
func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, loc: loc}
}

func (s *Service) Queue(ctx context.Context, limit int) ([]QueueRow, error) {
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	entries, err := s.repo.QueueSnapshot(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reporting: queue snapshot: %w", err)
	}
	out := make([]QueueRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, QueueRow{
			ID:         e.ID,
			Status:     e.Status,
			Timestamp:  s.format(e.CreatedAt),
			ScriptText: e.ScriptText,
			Country:    e.Locale,
		})
	}
	return out, nil
}

func (s *Service) Logs(ctx context.Context, limit int) ([]LogRow, error) {
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	entries, err := s.repo.LogSnapshot(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reporting: log snapshot: %w", err)
	}
	out := make([]LogRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogRow{
			ID:        e.ID,
			JobID:     e.JobID,
			Response:  e.Response,
			Timestamp: s.format(e.CreatedAt),
			AudioPath: e.AudioPath,
			Country:   e.Locale,
		})
	}
	return out, nil
}

func (s *Service) Counts(ctx context.Context) (StatusCounts, error) {
	if s.repo == nil {
		return StatusCounts{}, errors.New("reporting: repository not configured")
	}
	m, err := s.repo.CountJobsByStatus(ctx)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("reporting: count jobs: %w", err)
	}
	var out StatusCounts
	for status, n := range m {
		switch status {
		case calls.JobStatusQueued:
			out.Queued += n
		case calls.JobStatusRunning:
			out.Running += n
		case calls.JobStatusCompleted:
			out.Completed += n
		case calls.JobStatusFailed:
			out.Failed += n
		}
		out.Total += n
	}
	return out, nil
}

// Dashboard combines both snapshots with the status counts.
func (s *Service) Dashboard(ctx context.Context, limit int) (Dashboard, error) {
	q, err := s.Queue(ctx, limit)
	if err != nil {
		return Dashboard{}, err
	}
	l, err := s.Logs(ctx, limit)
	if err != nil {
		return Dashboard{}, err
	}
	c, err := s.Counts(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Queue: q, Logs: l, Counts: c}, nil
}

func (s *Service) format(t time.Time) string {
	return t.In(s.loc).Format(TimestampLayout)
}
