// Package worker drives queued call jobs through synthesis, origination and logging.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"ai-call-center/internal/calllog"
	"ai-call-center/internal/calls"
	"ai-call-center/internal/telephony"
	"ai-call-center/internal/tts"
	"ai-call-center/pkg/logger"

	"golang.org/x/time/rate"
)

const agentSuffix = " (Agent AI response)"

// ErrStoreUnavailable stops Run when the job store keeps failing. The affected job
// stays Queued or Running in the store and is handled by Recover on the next start.
var ErrStoreUnavailable = errors.New("worker: job store unavailable")

// Store is the slice of the job store the worker reads and claims through.
type Store interface {
	ClaimJob(ctx context.Context, id string, at time.Time) (calls.Job, error)
	GetScript(ctx context.Context, id string) (calls.Script, error)
	GetCredential(ctx context.Context, id string) (calls.Credential, error)
	ListJobsByStatus(ctx context.Context, status calls.JobStatus) ([]calls.Job, error)
}

// Recorder finishes a job with its log entry.
type Recorder interface {
	Record(ctx context.Context, e calllog.Entry) (calls.CallLog, error)
}

type Queue interface {
	Enqueue(j calls.Job) error
	Dequeue(ctx context.Context) (calls.Job, error)
}

// Config holds the origination parameters shared by every job.
type Config struct {
	Channel          string
	Context          string
	Priority         int
	OriginateTimeout time.Duration
	// OriginateRPS caps originations per second; 0 means unlimited.
	OriginateRPS float64

	// StoreAttempts bounds claim and record attempts per job (default 3);
	// StoreBackoff is the first delay between them and doubles each time (default 200ms).
	StoreAttempts int
	StoreBackoff  time.Duration
}

type Deps struct {
	Queue  Queue
	Store  Store
	Logs   Recorder
	Voice  tts.Synthesizer
	Dialer telephony.Dialer
	// Guard defaults to a LocalGuard.
	Guard SessionGuard
	Log   *slog.Logger
	// OnResult, when set, observes every processed job.
	OnResult func(Result)
}

// Result is the outcome of processing one job. Err holds the first failure, if any.
type Result struct {
	JobID     string
	Status    calls.JobStatus
	Response  string
	AudioPath string
	Err       error
}

type Worker struct {
	queue    Queue
	store    Store
	logs     Recorder
	voice    tts.Synthesizer
	dialer   telephony.Dialer
	guard    SessionGuard
	limiter  *rate.Limiter
	cfg      Config
	log      *slog.Logger
	onResult func(Result)
	clock    func() time.Time
}

func New(d Deps, cfg Config) (*Worker, error) {
	if d.Queue == nil || d.Store == nil || d.Logs == nil || d.Voice == nil || d.Dialer == nil {
		return nil, errors.New("worker: queue, store, logs, voice and dialer are required")
	}
	if cfg.Channel == "" || cfg.Context == "" {
		return nil, errors.New("worker: channel and context are required")
	}
	if cfg.Priority <= 0 {
		cfg.Priority = 1
	}
	if cfg.OriginateTimeout <= 0 {
		cfg.OriginateTimeout = 30 * time.Second
	}
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = 3
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 200 * time.Millisecond
	}
	guard := d.Guard
	if guard == nil {
		guard = NewLocalGuard()
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.OriginateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OriginateRPS), 1)
	}
	return &Worker{
		queue:    d.Queue,
		store:    d.Store,
		logs:     d.Logs,
		voice:    d.Voice,
		dialer:   d.Dialer,
		guard:    guard,
		limiter:  limiter,
		cfg:      cfg,
		log:      log,
		onResult: d.OnResult,
		clock:    time.Now,
	}, nil
}

// Run processes jobs one at a time in queue order until ctx is cancelled.
// It returns an error wrapping ErrStoreUnavailable when a job could not be claimed
// or recorded after retries, so the process can restart and recover it.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopped")
				return nil
			}
			return fmt.Errorf("worker: dequeue: %w", err)
		}

		res := w.Process(ctx, job)
		if w.onResult != nil {
			w.onResult(res)
		}
		if errors.Is(res.Err, ErrStoreUnavailable) {
			if ctx.Err() != nil {
				w.log.Info("worker stopped")
				return nil
			}
			w.log.Error("worker halted", "job_id", job.ID, "err", res.Err)
			return res.Err
		}
	}
}

// Process claims one job, attempts the call and records the outcome.
// It never panics; every failure is reported in the Result. Store failures that
// outlast the retries wrap ErrStoreUnavailable.
func (w *Worker) Process(ctx context.Context, job calls.Job) Result {
	ctx = logger.WithJob(logger.With(ctx, w.log), job.ID)
	log := logger.From(ctx)

	var claimed calls.Job
	err := w.withRetry(ctx, "claim job", func(ctx context.Context) error {
		var err error
		claimed, err = w.store.ClaimJob(ctx, job.ID, w.clock().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, calls.ErrInvalidTransition) {
			log.Warn("job is not queued, skipping", "err", err)
			return Result{JobID: job.ID, Err: err}
		}
		log.Error("claim job failed", "err", err)
		return Result{JobID: job.ID, Status: calls.JobStatusQueued, Err: fmt.Errorf("%w: claim %s: %w", ErrStoreUnavailable, job.ID, err)}
	}
	log.Info("job claimed", "script_id", claimed.ScriptID)

	res := w.attempt(ctx, claimed)

	// Outcome is persisted even when shutdown cancelled the attempt.
	entry := calllog.Entry{
		JobID:     claimed.ID,
		ScriptID:  claimed.ScriptID,
		Status:    res.Status,
		Response:  res.Response,
		AudioPath: res.AudioPath,
	}
	err = w.withRetry(context.WithoutCancel(ctx), "record outcome", func(ctx context.Context) error {
		_, err := w.logs.Record(ctx, entry)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrInvalidTransition), errors.Is(err, calls.ErrDuplicateLog):
		log.Warn("outcome already recorded", "err", err)
		res.Err = errors.Join(res.Err, err)
	default:
		log.Error("record outcome failed", "err", err)
		res.Err = errors.Join(res.Err, fmt.Errorf("%w: record %s: %w", ErrStoreUnavailable, claimed.ID, err))
	}

	attrs := []any{"status", res.Status, "audio_path", res.AudioPath}
	if res.Err != nil {
		log.Warn("job finished", append(attrs, "err", res.Err)...)
	} else {
		log.Info("job finished", attrs...)
	}
	return res
}

// withRetry runs fn up to StoreAttempts times with doubling backoff. Transition
// and duplicate-log errors are final and returned at once.
func (w *Worker) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := w.cfg.StoreBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || final(err) || attempt >= w.cfg.StoreAttempts {
			return err
		}
		logger.From(ctx).Warn("store call failed, retrying", "op", op, "attempt", attempt, "err", err)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		}
		delay *= 2
	}
}

func final(err error) bool {
	return errors.Is(err, calls.ErrInvalidTransition) || errors.Is(err, calls.ErrDuplicateLog)
}

func (w *Worker) attempt(ctx context.Context, job calls.Job) (res Result) {
	log := logger.From(ctx)
	res = Result{JobID: job.ID, Status: calls.JobStatusFailed}

	script, scriptErr := w.store.GetScript(ctx, job.ScriptID)
	resp := calllog.NewResponse(script.Text)

	var (
		sess    telephony.Session
		release func()
	)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			log.Error("job panicked", "panic", p, "stack", string(debug.Stack()))
			resp.Exception(err)
			res.Status = calls.JobStatusFailed
			res.Err = err
		}
		if sess != nil {
			if err := sess.Close(); err != nil {
				log.Warn("close telephony session failed", "err", err)
			}
		}
		if release != nil {
			release()
		}
		res.Response = resp.String()
	}()

	if scriptErr != nil {
		resp.Exception(scriptErr)
		res.Err = scriptErr
		return res
	}

	if path, err := w.voice.Synthesize(ctx, script.Text, script.Locale); err != nil {
		log.Warn("synthesis failed", "err", err)
		resp.Add("Voice synthesis failed: %v", err)
	} else {
		res.AudioPath = path
	}

	cred, err := w.store.GetCredential(ctx, script.CredentialID)
	if err != nil {
		resp.Exception(err)
		res.Err = err
		return res
	}
	label := protocolLabel(cred.Protocol)

	release, err = w.guard.Acquire(ctx, sessionKey(cred))
	if err != nil {
		if errors.Is(err, ErrEndpointBusy) {
			resp.Add("%s endpoint busy", label)
		} else {
			resp.Exception(err)
		}
		res.Err = err
		return res
	}

	sess, err = w.dialer.Open(ctx, cred)
	if err != nil {
		log.Warn("telephony login failed", "protocol", label, "err", err)
		resp.Add("%s connection failed: %v", label, err)
		res.Err = err
		return res
	}

	composed := script.Text + agentSuffix
	if path, err := w.voice.Synthesize(ctx, composed, script.Locale); err != nil {
		log.Warn("agent response synthesis failed", "err", err)
		resp.Add("Voice synthesis failed: %v", err)
	} else {
		res.AudioPath = path
	}

	if err := w.limiter.Wait(ctx); err != nil {
		resp.Exception(err)
		res.Err = err
		return res
	}

	octx, cancel := context.WithTimeout(ctx, w.cfg.OriginateTimeout)
	defer cancel()
	ack, err := sess.Originate(octx, telephony.OriginateRequest{
		Channel:   w.channelFor(cred),
		Context:   w.cfg.Context,
		Extension: script.Extension,
		Priority:  w.cfg.Priority,
		CallerID:  script.CallerID,
		Timeout:   w.cfg.OriginateTimeout,
	})
	if err != nil {
		resp.Exception(err)
		res.Err = err
		return res
	}

	log.Info("origination accepted", "ack_id", ack.ID, "ack", ack.Message)
	resp.Add("%s call triggered with response: %s", label, composed)
	res.Status = calls.JobStatusCompleted
	return res
}

func (w *Worker) channelFor(c calls.Credential) string {
	if c.SIPEndpoint != "" {
		return c.SIPEndpoint
	}
	return w.cfg.Channel
}

func protocolLabel(p calls.Protocol) string {
	if p == "" {
		p = calls.ProtocolAMI
	}
	return strings.ToUpper(string(p))
}
