package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ai-call-center/internal/calllog"
	"ai-call-center/internal/calls"
	"ai-call-center/internal/queue"
	"ai-call-center/internal/store"
	"ai-call-center/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	fail  map[int]bool // 1-based call numbers that fail
}

func (f *fakeSynth) Synthesize(_ context.Context, text, locale string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	n := len(f.texts)
	if f.fail[n] {
		return "", fmt.Errorf("engine down")
	}
	return fmt.Sprintf("media/response_%s_%d.wav", locale, n), nil
}

type fakeDialer struct {
	mu       sync.Mutex
	secret   string
	origErr  error
	block    bool
	panics   bool
	opened   int
	closed   int
	requests []telephony.OriginateRequest
}

func (d *fakeDialer) Open(_ context.Context, c calls.Credential) (telephony.Session, error) {
	if c.Secret != d.secret {
		return nil, fmt.Errorf("%w: login rejected: Authentication failed", telephony.ErrAuth)
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &fakeSession{d: d}, nil
}

type fakeSession struct{ d *fakeDialer }

func (s *fakeSession) Originate(ctx context.Context, req telephony.OriginateRequest) (telephony.Ack, error) {
	s.d.mu.Lock()
	s.d.requests = append(s.d.requests, req)
	s.d.mu.Unlock()
	if s.d.panics {
		panic("driver bug")
	}
	if s.d.block {
		<-ctx.Done()
		return telephony.Ack{}, fmt.Errorf("%w: %v", telephony.ErrTimeout, ctx.Err())
	}
	if s.d.origErr != nil {
		return telephony.Ack{}, s.d.origErr
	}
	return telephony.Ack{ID: "act-1", Message: "Originate successfully queued"}, nil
}

func (s *fakeSession) Close() error {
	s.d.mu.Lock()
	s.d.closed++
	s.d.mu.Unlock()
	return nil
}

type harness struct {
	repo   *store.MemoryRepo
	queue  *queue.Queue
	synth  *fakeSynth
	dialer *fakeDialer
	worker *Worker
	n      int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		repo:   store.NewMemoryRepo(),
		queue:  queue.New(),
		synth:  &fakeSynth{fail: map[int]bool{}},
		dialer: &fakeDialer{secret: "good"},
	}
	if cfg.Channel == "" {
		cfg = Config{Channel: "SIP/1011", Context: "from-internal", Priority: 1, OriginateTimeout: time.Second}
	}
	w, err := New(Deps{
		Queue:  h.queue,
		Store:  h.repo,
		Logs:   calllog.NewService(h.repo),
		Voice:  h.synth,
		Dialer: h.dialer,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
	require.NoError(t, err)
	h.worker = w
	return h
}

func (h *harness) submit(t *testing.T, text, secret string) calls.Job {
	t.Helper()
	h.n++
	now := time.Now().UTC()
	c := calls.Credential{ID: fmt.Sprintf("c%d", h.n), Host: "pbx", Port: 5038, Username: "admin", Secret: secret, Protocol: calls.ProtocolAMI, CreatedAt: now}
	s := calls.Script{ID: fmt.Sprintf("s%d", h.n), Locale: "us", Text: text, Extension: "1000", CallerID: "AI Call Center", CredentialID: c.ID, CreatedAt: now}
	j := calls.Job{ID: fmt.Sprintf("j%d", h.n), ScriptID: s.ID, Status: calls.JobStatusQueued, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, h.repo.CreateSubmission(context.Background(), c, s, j))
	return j
}

func (h *harness) logsFor(t *testing.T, jobID string) []calls.LogEntry {
	t.Helper()
	all, err := h.repo.LogSnapshot(context.Background(), 1000)
	require.NoError(t, err)
	var out []calls.LogEntry
	for _, l := range all {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out
}

func (h *harness) status(t *testing.T, jobID string) calls.JobStatus {
	t.Helper()
	j, err := h.repo.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return j.Status
}

func TestProcess_SuccessfulCall(t *testing.T) {
	h := newHarness(t, Config{})
	job := h.submit(t, "Hello", "good")

	res := h.worker.Process(context.Background(), job)

	require.NoError(t, res.Err)
	assert.Equal(t, calls.JobStatusCompleted, res.Status)
	assert.Equal(t, "AI reading: Hello | AMI call triggered with response: Hello (Agent AI response)", res.Response)
	assert.Equal(t, "media/response_us_2.wav", res.AudioPath, "latest artifact wins")
	assert.Equal(t, []string{"Hello", "Hello (Agent AI response)"}, h.synth.texts)

	require.Len(t, h.dialer.requests, 1)
	req := h.dialer.requests[0]
	assert.Equal(t, "SIP/1011", req.Channel)
	assert.Equal(t, "from-internal", req.Context)
	assert.Equal(t, "1000", req.Extension)
	assert.Equal(t, 1, req.Priority)
	assert.Equal(t, "AI Call Center", req.CallerID)
	assert.Equal(t, 1, h.dialer.closed, "session closed after origination")

	assert.Equal(t, calls.JobStatusCompleted, h.status(t, job.ID))
	logs := h.logsFor(t, job.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, res.Response, logs[0].Response)
	assert.Equal(t, res.AudioPath, logs[0].AudioPath)
}

func TestProcess_AuthFailure(t *testing.T) {
	h := newHarness(t, Config{})
	job := h.submit(t, "Hello", "wrong")

	res := h.worker.Process(context.Background(), job)

	assert.ErrorIs(t, res.Err, telephony.ErrAuth)
	assert.Equal(t, calls.JobStatusFailed, res.Status)
	assert.Contains(t, res.Response, "AI reading: Hello | AMI connection failed")
	assert.Equal(t, "media/response_us_1.wav", res.AudioPath, "first artifact kept")
	assert.Empty(t, h.dialer.requests, "no origination after failed login")
	assert.Len(t, h.synth.texts, 1)

	assert.Equal(t, calls.JobStatusFailed, h.status(t, job.ID))
	assert.Len(t, h.logsFor(t, job.ID), 1)
}

func TestProcess_SynthesisFailuresDoNotBlockCompletion(t *testing.T) {
	h := newHarness(t, Config{})
	h.synth.fail = map[int]bool{1: true, 2: true}
	job := h.submit(t, "Hello", "good")

	res := h.worker.Process(context.Background(), job)

	assert.Equal(t, calls.JobStatusCompleted, res.Status)
	assert.Empty(t, res.AudioPath)
	assert.Contains(t, res.Response, "Voice synthesis failed")
	assert.Contains(t, res.Response, "AMI call triggered")
	assert.Len(t, h.logsFor(t, job.ID), 1)
}

func TestProcess_SecondSynthesisFailureKeepsFirstPath(t *testing.T) {
	h := newHarness(t, Config{})
	h.synth.fail = map[int]bool{2: true}
	job := h.submit(t, "Hello", "good")

	res := h.worker.Process(context.Background(), job)

	assert.Equal(t, calls.JobStatusCompleted, res.Status)
	assert.Equal(t, "media/response_us_1.wav", res.AudioPath)
}

func TestProcess_OriginationError(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.origErr = fmt.Errorf("%w: Extension does not exist", telephony.ErrOrigination)
	job := h.submit(t, "Hello", "good")

	res := h.worker.Process(context.Background(), job)

	assert.ErrorIs(t, res.Err, telephony.ErrOrigination)
	assert.Equal(t, calls.JobStatusFailed, res.Status)
	assert.Contains(t, res.Response, "| Exception: telephony: origination rejected: Extension does not exist")
	assert.Equal(t, 1, h.dialer.closed)
	assert.Len(t, h.logsFor(t, job.ID), 1)
}

func TestProcess_OriginationTimeout(t *testing.T) {
	h := newHarness(t, Config{Channel: "SIP/1011", Context: "from-internal", OriginateTimeout: 30 * time.Millisecond})
	h.dialer.block = true
	job := h.submit(t, "Hello", "good")

	res := h.worker.Process(context.Background(), job)

	assert.ErrorIs(t, res.Err, telephony.ErrTimeout)
	assert.Equal(t, calls.JobStatusFailed, res.Status)
	assert.Contains(t, res.Response, "Exception:")
	assert.Equal(t, 1, h.dialer.closed)
}

func TestProcess_PanicIsContained(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.panics = true
	job := h.submit(t, "Hello", "good")

	var res Result
	require.NotPanics(t, func() { res = h.worker.Process(context.Background(), job) })

	assert.Equal(t, calls.JobStatusFailed, res.Status)
	assert.Contains(t, res.Response, "Exception: panic: driver bug")
	assert.Equal(t, 1, h.dialer.closed)
	assert.Equal(t, calls.JobStatusFailed, h.status(t, job.ID))
}

func TestProcess_BusyEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	job := h.submit(t, "Hello", "good")

	release, err := h.worker.guard.Acquire(context.Background(), "pbx:5038")
	require.NoError(t, err)
	defer release()

	res := h.worker.Process(context.Background(), job)
	assert.ErrorIs(t, res.Err, ErrEndpointBusy)
	assert.Contains(t, res.Response, "AMI endpoint busy")
	assert.Equal(t, 0, h.dialer.opened)
}

func TestProcess_CustomSIPEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	now := time.Now()
	require.NoError(t, h.repo.CreateSubmission(context.Background(),
		calls.Credential{ID: "cx", Host: "pbx2", Port: 5038, Secret: "good", SIPEndpoint: "PJSIP/2000", CreatedAt: now},
		calls.Script{ID: "sx", Text: "Hi", Locale: "uk", Extension: "+15550100", CredentialID: "cx", CreatedAt: now},
		calls.Job{ID: "jx", ScriptID: "sx", Status: calls.JobStatusQueued, CreatedAt: now},
	))

	res := h.worker.Process(context.Background(), calls.Job{ID: "jx", ScriptID: "sx"})
	require.NoError(t, res.Err)
	assert.Equal(t, "PJSIP/2000", h.dialer.requests[0].Channel)
	assert.Equal(t, "+15550100", h.dialer.requests[0].Extension)
}

func TestProcess_SkipsJobThatIsNotQueued(t *testing.T) {
	h := newHarness(t, Config{})
	job := h.submit(t, "Hello", "good")
	first := h.worker.Process(context.Background(), job)
	require.Equal(t, calls.JobStatusCompleted, first.Status)

	again := h.worker.Process(context.Background(), job)
	assert.ErrorIs(t, again.Err, calls.ErrInvalidTransition)
	assert.Len(t, h.logsFor(t, job.ID), 1, "a duplicate delivery must not log twice")
	assert.Equal(t, 1, h.dialer.opened)
}

func TestProcess_CancelledContextStillRecordsOutcome(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.block = true
	job := h.submit(t, "Hello", "good")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := h.worker.Process(ctx, job)

	assert.Equal(t, calls.JobStatusFailed, res.Status)
	assert.Equal(t, calls.JobStatusFailed, h.status(t, job.ID))
	assert.Len(t, h.logsFor(t, job.ID), 1)
}

func TestRun_ProcessesInFIFOOrder(t *testing.T) {
	h := newHarness(t, Config{})
	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{})
	h.worker.onResult = func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.JobID)
		if len(seen) == 3 {
			close(done)
		}
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, h.queue.Enqueue(h.submit(t, fmt.Sprintf("text %d", i), "good")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.worker.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process jobs")
	}
	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"j1", "j2", "j3"}, seen)
	counts, err := h.repo.CountJobsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[calls.JobStatusCompleted])
}

func TestRecover(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	interrupted := h.submit(t, "Left running", "good")
	_, err := h.repo.ClaimJob(ctx, interrupted.ID, time.Now())
	require.NoError(t, err)
	q1 := h.submit(t, "first", "good")
	q2 := h.submit(t, "second", "good")

	rep, err := h.worker.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Failed: 1, Requeued: 2}, rep)

	assert.Equal(t, calls.JobStatusFailed, h.status(t, interrupted.ID))
	logs := h.logsFor(t, interrupted.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, "AI reading: Left running | Exception: worker interrupted before completion", logs[0].Response)

	got1, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	got2, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{q1.ID, q2.ID}, []string{got1.ID, got2.ID})
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{}, Config{Channel: "SIP/1011", Context: "x"})
	assert.Error(t, err)
}

func TestNew_OriginationPacing(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, rate.Inf, h.worker.limiter.Limit())

	paced := newHarness(t, Config{Channel: "SIP/1011", Context: "from-internal", OriginateRPS: 2})
	assert.Equal(t, rate.Limit(2), paced.worker.limiter.Limit())
	assert.Equal(t, 1, paced.worker.cfg.Priority)
	assert.Equal(t, 30*time.Second, paced.worker.cfg.OriginateTimeout)
}

func TestProtocolLabel(t *testing.T) {
	assert.Equal(t, "AMI", protocolLabel(""))
	assert.Equal(t, "ESL", protocolLabel(calls.ProtocolESL))
	assert.True(t, errors.Is(fmt.Errorf("%w", ErrEndpointBusy), ErrEndpointBusy))
}

// flakyStore fails the first failClaims ClaimJob calls with a connection error.
type flakyStore struct {
	*store.MemoryRepo
	mu         sync.Mutex
	failClaims int
	claims     int
}

func (s *flakyStore) ClaimJob(ctx context.Context, id string, at time.Time) (calls.Job, error) {
	s.mu.Lock()
	s.claims++
	fail := s.claims <= s.failClaims
	s.mu.Unlock()
	if fail {
		return calls.Job{}, errors.New("connection reset by peer")
	}
	return s.MemoryRepo.ClaimJob(ctx, id, at)
}

// flakyRecorder fails every Record call while down is set.
type flakyRecorder struct {
	next Recorder
	down bool
}

func (r *flakyRecorder) Record(ctx context.Context, e calllog.Entry) (calls.CallLog, error) {
	if r.down {
		return calls.CallLog{}, errors.New("connection reset by peer")
	}
	return r.next.Record(ctx, e)
}

func retryingWorker(t *testing.T, h *harness, st Store, rec Recorder) *Worker {
	t.Helper()
	w, err := New(Deps{
		Queue:  h.queue,
		Store:  st,
		Logs:   rec,
		Voice:  h.synth,
		Dialer: h.dialer,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{Channel: "SIP/1011", Context: "from-internal", OriginateTimeout: time.Second, StoreAttempts: 3, StoreBackoff: time.Millisecond})
	require.NoError(t, err)
	return w
}

func TestProcess_RetriesTransientClaimFailure(t *testing.T) {
	h := newHarness(t, Config{})
	st := &flakyStore{MemoryRepo: h.repo, failClaims: 1}
	w := retryingWorker(t, h, st, calllog.NewService(h.repo))
	job := h.submit(t, "Hello", "good")

	res := w.Process(context.Background(), job)

	require.NoError(t, res.Err)
	assert.Equal(t, calls.JobStatusCompleted, h.status(t, job.ID))
	assert.Len(t, h.logsFor(t, job.ID), 1)
	assert.Equal(t, 2, st.claims)
}

func TestRun_HaltsWhenClaimKeepsFailing(t *testing.T) {
	h := newHarness(t, Config{})
	st := &flakyStore{MemoryRepo: h.repo, failClaims: 100}
	w := retryingWorker(t, h, st, calllog.NewService(h.repo))

	first := h.submit(t, "first", "good")
	second := h.submit(t, "second", "good")
	require.NoError(t, h.queue.Enqueue(first))
	require.NoError(t, h.queue.Enqueue(second))

	err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)

	// Nothing moves past the stuck job; a restart recovers both.
	assert.Equal(t, calls.JobStatusQueued, h.status(t, first.ID))
	assert.Equal(t, calls.JobStatusQueued, h.status(t, second.ID))
	assert.Equal(t, 3, st.claims)

	restarted := retryingWorker(t, h, h.repo, calllog.NewService(h.repo))
	for h.queue.Len() > 0 {
		_, err := h.queue.Dequeue(context.Background())
		require.NoError(t, err)
	}
	rep, err := restarted.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Requeued)
}

func TestRun_HaltsWhenOutcomeCannotBeRecorded(t *testing.T) {
	h := newHarness(t, Config{})
	rec := &flakyRecorder{next: calllog.NewService(h.repo), down: true}
	w := retryingWorker(t, h, h.repo, rec)

	job := h.submit(t, "Hello", "good")
	require.NoError(t, h.queue.Enqueue(job))

	err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, calls.JobStatusRunning, h.status(t, job.ID))
	assert.Empty(t, h.logsFor(t, job.ID))

	rec.down = false
	rep, err := w.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, h.logsFor(t, job.ID), 1)
	assert.Equal(t, calls.JobStatusFailed, h.status(t, job.ID))
}
