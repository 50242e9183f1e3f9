// Package gateway validates call submissions, persists them and hands the job to the queue.
// It never talks to telephony or speech engines.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-call-center/internal/calls"
	"ai-call-center/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Store interface {
	CreateSubmission(ctx context.Context, c calls.Credential, s calls.Script, j calls.Job) error
	CreateCredential(ctx context.Context, c calls.Credential) error
	CreateScript(ctx context.Context, s calls.Script) error
	CreateJob(ctx context.Context, j calls.Job) error
	GetCredential(ctx context.Context, id string) (calls.Credential, error)
	GetScript(ctx context.Context, id string) (calls.Script, error)
}

type Enqueuer interface {
	Enqueue(j calls.Job) error
}

// CredentialRequest describes a telephony control endpoint.
type CredentialRequest struct {
	Host        string `json:"ami_host" validate:"required,max=255,hostname_rfc1123|ip"`
	Port        int    `json:"ami_port" validate:"omitempty,min=1,max=65535"`
	Username    string `json:"ami_user" validate:"required,max=50"`
	Secret      string `json:"ami_pass" validate:"required,max=100"`
	Protocol    string `json:"protocol" validate:"omitempty,oneof=ami ari esl"`
	SIPEndpoint string `json:"sip_endpoint" validate:"max=100"`
}

// normalized trims the endpoint fields and lowercases the protocol so validation
// sees the same values that get stored.
func (r CredentialRequest) normalized() CredentialRequest {
	r.Host = strings.TrimSpace(r.Host)
	r.Protocol = strings.ToLower(strings.TrimSpace(r.Protocol))
	r.SIPEndpoint = strings.TrimSpace(r.SIPEndpoint)
	return r
}

// ScriptFields are the per-call fields shared by script creation and submission.
type ScriptFields struct {
	Country    string `json:"country" validate:"required,max=50"`
	ScriptText string `json:"script_text" validate:"required,max=5000"`
	Exten      string `json:"exten" validate:"max=64"`
	CallerID   string `json:"caller_id" validate:"max=80"`
}

type ScriptRequest struct {
	CredentialID string `json:"credential_id" validate:"required"`
	ScriptFields
}

// SubmitRequest creates a credential, a script and a queued job in one call.
type SubmitRequest struct {
	CredentialRequest
	ScriptFields
}

type Service struct {
	store    Store
	queue    Enqueuer
	validate *validator.Validate
	region   string
	clock    func() time.Time
}

func NewService(store Store, queue Enqueuer, defaultRegion string) *Service {
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	return &Service{
		store:    store,
		queue:    queue,
		validate: newValidator(),
		region:   defaultRegion,
		clock:    time.Now,
	}
}

// Submit validates req, stores it and enqueues the new job.
// On validation failure nothing is stored or enqueued.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (calls.Job, error) {
	req.CredentialRequest = req.CredentialRequest.normalized()
	verr := check(s.validate, req)
	cred := s.credentialFrom(req.CredentialRequest)
	script, dest := s.scriptFrom(cred.ID, req.ScriptFields)
	if !dest {
		verr.add("exten", msgDestination)
	}
	if err := verr.orNil(); err != nil {
		return calls.Job{}, err
	}

	job := s.newJob(script.ID)
	if err := s.store.CreateSubmission(ctx, cred, script, job); err != nil {
		return calls.Job{}, fmt.Errorf("gateway: persist submission: %w", err)
	}
	return job, s.enqueue(ctx, job)
}

func (s *Service) CreateCredential(ctx context.Context, req CredentialRequest) (calls.Credential, error) {
	req = req.normalized()
	if err := check(s.validate, req).orNil(); err != nil {
		return calls.Credential{}, err
	}
	cred := s.credentialFrom(req)
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return calls.Credential{}, fmt.Errorf("gateway: persist credential: %w", err)
	}
	return cred, nil
}

func (s *Service) CreateScript(ctx context.Context, req ScriptRequest) (calls.Script, error) {
	verr := check(s.validate, req)
	script, dest := s.scriptFrom(req.CredentialID, req.ScriptFields)
	if !dest {
		verr.add("exten", msgDestination)
	}
	if req.CredentialID != "" {
		_, err := s.store.GetCredential(ctx, req.CredentialID)
		if errors.Is(err, calls.ErrNotFound) {
			verr.add("credential_id", "Unknown credential.")
		} else if err != nil {
			return calls.Script{}, fmt.Errorf("gateway: load credential: %w", err)
		}
	}
	if err := verr.orNil(); err != nil {
		return calls.Script{}, err
	}
	if err := s.store.CreateScript(ctx, script); err != nil {
		return calls.Script{}, fmt.Errorf("gateway: persist script: %w", err)
	}
	return script, nil
}

// Resubmit queues a new job for an existing script. Failed jobs are never retried in place.
func (s *Service) Resubmit(ctx context.Context, scriptID string) (calls.Job, error) {
	script, err := s.store.GetScript(ctx, scriptID)
	if err != nil {
		return calls.Job{}, fmt.Errorf("gateway: load script: %w", err)
	}
	job := s.newJob(script.ID)
	if err := s.store.CreateJob(ctx, job); err != nil {
		return calls.Job{}, fmt.Errorf("gateway: persist job: %w", err)
	}
	return job, s.enqueue(ctx, job)
}

func (s *Service) enqueue(ctx context.Context, job calls.Job) error {
	if err := s.queue.Enqueue(job); err != nil {
		// The job stays Queued in the store and is picked up by startup recovery.
		logger.From(ctx).Error("enqueue failed", "job_id", job.ID, "err", err)
		return fmt.Errorf("gateway: enqueue job %s: %w", job.ID, err)
	}
	logger.From(ctx).Info("job queued", "job_id", job.ID, "script_id", job.ScriptID)
	return nil
}

func (s *Service) credentialFrom(req CredentialRequest) calls.Credential {
	protocol := calls.Protocol(req.Protocol)
	if protocol == "" {
		protocol = calls.ProtocolAMI
	}
	port := req.Port
	if port == 0 {
		port = protocol.DefaultPort()
	}
	return calls.Credential{
		ID:          uuid.NewString(),
		Host:        req.Host,
		Port:        port,
		Username:    req.Username,
		Secret:      req.Secret,
		Protocol:    protocol,
		SIPEndpoint: req.SIPEndpoint,
		CreatedAt:   s.clock().UTC(),
	}
}

// scriptFrom applies defaults and reports whether the destination is dialable.
func (s *Service) scriptFrom(credentialID string, f ScriptFields) (calls.Script, bool) {
	exten := strings.TrimSpace(f.Exten)
	if exten == "" {
		exten = calls.DefaultExtension
	}
	dest, ok := normalizeDestination(exten, s.region)
	callerID := strings.TrimSpace(f.CallerID)
	if callerID == "" {
		callerID = calls.DefaultCallerID
	}
	return calls.Script{
		ID:           uuid.NewString(),
		Locale:       strings.TrimSpace(f.Country),
		Text:         f.ScriptText,
		Extension:    dest,
		CallerID:     callerID,
		CredentialID: credentialID,
		CreatedAt:    s.clock().UTC(),
	}, ok
}

func (s *Service) newJob(scriptID string) calls.Job {
	now := s.clock().UTC()
	return calls.Job{
		ID:        uuid.NewString(),
		ScriptID:  scriptID,
		Status:    calls.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
