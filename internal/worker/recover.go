package worker

import (
	"context"
	"errors"
	"fmt"

	"ai-call-center/internal/calllog"
	"ai-call-center/internal/calls"
)

var errInterrupted = errors.New("worker interrupted before completion")

// RecoveryReport summarises what Recover did.
type RecoveryReport struct {
	Failed   int
	Requeued int
}

// Recover restores queue state after a restart. Jobs a previous process left
// Running are failed with a log row; Queued jobs are enqueued oldest first.
// Call it before accepting submissions.
func (w *Worker) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport

	running, err := w.store.ListJobsByStatus(ctx, calls.JobStatusRunning)
	if err != nil {
		return rep, fmt.Errorf("worker: list running jobs: %w", err)
	}
	for _, j := range running {
		text := ""
		if s, err := w.store.GetScript(ctx, j.ScriptID); err == nil {
			text = s.Text
		}
		resp := calllog.NewResponse(text)
		resp.Exception(errInterrupted)
		if _, err := w.logs.Record(ctx, calllog.Entry{
			JobID:    j.ID,
			ScriptID: j.ScriptID,
			Status:   calls.JobStatusFailed,
			Response: resp.String(),
		}); err != nil {
			return rep, fmt.Errorf("worker: fail interrupted job %s: %w", j.ID, err)
		}
		rep.Failed++
	}

	queued, err := w.store.ListJobsByStatus(ctx, calls.JobStatusQueued)
	if err != nil {
		return rep, fmt.Errorf("worker: list queued jobs: %w", err)
	}
	for _, j := range queued {
		if err := w.queue.Enqueue(j); err != nil {
			return rep, fmt.Errorf("worker: requeue job %s: %w", j.ID, err)
		}
		rep.Requeued++
	}

	if rep.Failed > 0 || rep.Requeued > 0 {
		w.log.Info("queue recovered", "failed", rep.Failed, "requeued", rep.Requeued)
	}
	return rep, nil
}
