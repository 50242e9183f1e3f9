package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ai-call-center/internal/calls"
	"ai-call-center/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation   = "23505"
	pgInvalidTextFormat = "22P02"
)

// isMissing reports whether a single-row lookup found nothing. An id that is not
// a valid UUID cannot match any row either.
func isMissing(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextFormat
}

// PostgresRepo is the database/sql Repository backed by the pgx stdlib driver.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return utils.HealthCheck(ctx, r.db, 2*time.Second)
}

const insertCredentialSQL = `INSERT INTO credentials (id, host, port, username, secret, protocol, sip_endpoint, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const insertScriptSQL = `INSERT INTO scripts (id, locale, text, extension, caller_id, credential_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const insertJobSQL = `INSERT INTO jobs (id, script_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCredential(ctx context.Context, e execer, c calls.Credential) error {
	_, err := e.ExecContext(ctx, insertCredentialSQL,
		c.ID, c.Host, c.Port, c.Username, c.Secret, string(c.Protocol), c.SIPEndpoint, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert credential: %w", err)
	}
	return nil
}

func insertScript(ctx context.Context, e execer, s calls.Script) error {
	_, err := e.ExecContext(ctx, insertScriptSQL,
		s.ID, s.Locale, s.Text, s.Extension, s.CallerID, s.CredentialID, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert script: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, e execer, j calls.Job) error {
	if j.Status != calls.JobStatusQueued {
		return fmt.Errorf("store: new job must be %s, got %s", calls.JobStatusQueued, j.Status)
	}
	_, err := e.ExecContext(ctx, insertJobSQL, j.ID, j.ScriptID, string(j.Status), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CreateCredential(ctx context.Context, c calls.Credential) error {
	return insertCredential(ctx, r.db, c)
}

const selectCredentialSQL = `SELECT id, host, port, username, secret, protocol, sip_endpoint, created_at FROM credentials`

func scanCredential(row interface{ Scan(...any) error }) (calls.Credential, error) {
	var c calls.Credential
	var protocol string
	if err := row.Scan(&c.ID, &c.Host, &c.Port, &c.Username, &c.Secret, &protocol, &c.SIPEndpoint, &c.CreatedAt); err != nil {
		return calls.Credential{}, err
	}
	c.Protocol = calls.Protocol(protocol)
	return c, nil
}

func (r *PostgresRepo) GetCredential(ctx context.Context, id string) (calls.Credential, error) {
	c, err := scanCredential(r.db.QueryRowContext(ctx, selectCredentialSQL+` WHERE id = $1`, id))
	if isMissing(err) {
		return calls.Credential{}, fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return calls.Credential{}, fmt.Errorf("store: get credential: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) ListCredentials(ctx context.Context) ([]calls.Credential, error) {
	rows, err := r.db.QueryContext(ctx, selectCredentialSQL+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list credentials: %w", err)
	}
	defer rows.Close()

	var out []calls.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateScript(ctx context.Context, s calls.Script) error {
	return insertScript(ctx, r.db, s)
}

const selectScriptSQL = `SELECT id, locale, text, extension, caller_id, credential_id, created_at FROM scripts`

func scanScript(row interface{ Scan(...any) error }) (calls.Script, error) {
	var s calls.Script
	err := row.Scan(&s.ID, &s.Locale, &s.Text, &s.Extension, &s.CallerID, &s.CredentialID, &s.CreatedAt)
	return s, err
}

func (r *PostgresRepo) GetScript(ctx context.Context, id string) (calls.Script, error) {
	s, err := scanScript(r.db.QueryRowContext(ctx, selectScriptSQL+` WHERE id = $1`, id))
	if isMissing(err) {
		return calls.Script{}, fmt.Errorf("script %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return calls.Script{}, fmt.Errorf("store: get script: %w", err)
	}
	return s, nil
}

func (r *PostgresRepo) ListScripts(ctx context.Context) ([]calls.Script, error) {
	rows, err := r.db.QueryContext(ctx, selectScriptSQL+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list scripts: %w", err)
	}
	defer rows.Close()

	var out []calls.Script
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan script: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateSubmission(ctx context.Context, c calls.Credential, s calls.Script, j calls.Job) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertCredential(ctx, tx, c); err != nil {
			return err
		}
		if err := insertScript(ctx, tx, s); err != nil {
			return err
		}
		return insertJob(ctx, tx, j)
	})
}

func (r *PostgresRepo) CreateJob(ctx context.Context, j calls.Job) error {
	return insertJob(ctx, r.db, j)
}

const selectJobSQL = `SELECT id, script_id, status, created_at, updated_at FROM jobs`

func scanJob(row interface{ Scan(...any) error }) (calls.Job, error) {
	var j calls.Job
	var status string
	if err := row.Scan(&j.ID, &j.ScriptID, &status, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return calls.Job{}, err
	}
	j.Status = calls.JobStatus(status)
	return j, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (calls.Job, error) {
	return getJob(ctx, r.db, id)
}

func getJob(ctx context.Context, q rowQuerier, id string) (calls.Job, error) {
	j, err := scanJob(q.QueryRowContext(ctx, selectJobSQL+` WHERE id = $1`, id))
	if isMissing(err) {
		return calls.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return calls.Job{}, fmt.Errorf("store: get job: %w", err)
	}
	return j, nil
}

const claimJobSQL = `UPDATE jobs SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
RETURNING id, script_id, status, created_at, updated_at`

func (r *PostgresRepo) ClaimJob(ctx context.Context, id string, at time.Time) (calls.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, claimJobSQL,
		id, string(calls.JobStatusRunning), at, string(calls.JobStatusQueued)))
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Job{}, transitionError(ctx, r.db, id, calls.JobStatusRunning)
	}
	if isMissing(err) {
		return calls.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return calls.Job{}, fmt.Errorf("store: claim job: %w", err)
	}
	return j, nil
}

const finishJobSQL = `UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`

const insertCallLogSQL = `INSERT INTO call_logs (id, job_id, script_id, response, audio_path, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (r *PostgresRepo) FinishJob(ctx context.Context, id string, status calls.JobStatus, at time.Time, log calls.CallLog) error {
	if err := calls.ValidateTransition(calls.JobStatusRunning, status); err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, finishJobSQL, id, string(status), at, string(calls.JobStatusRunning))
		if err != nil {
			return fmt.Errorf("store: finish job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: finish job: %w", err)
		}
		if n == 0 {
			return transitionError(ctx, tx, id, status)
		}

		_, err = tx.ExecContext(ctx, insertCallLogSQL,
			log.ID, log.JobID, log.ScriptID, log.Response, log.AudioPath, log.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("job %s: %w", id, ErrDuplicateLog)
		}
		if err != nil {
			return fmt.Errorf("store: insert call log: %w", err)
		}
		return nil
	})
	return err
}

// transitionError explains why a conditional status update matched no row.
func transitionError(ctx context.Context, q rowQuerier, id string, to calls.JobStatus) error {
	j, err := getJob(ctx, q, id)
	if err != nil {
		return err
	}
	if err := calls.ValidateTransition(j.Status, to); err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	return fmt.Errorf("job %s: %w: status changed concurrently", id, ErrInvalidTransition)
}

func (r *PostgresRepo) ListJobsByStatus(ctx context.Context, status calls.JobStatus) ([]calls.Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJobSQL+` WHERE status = $1 ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []calls.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const queueSnapshotSQL = `SELECT j.id, j.script_id, j.status, j.created_at, j.updated_at, s.locale, s.text
FROM jobs j JOIN scripts s ON s.id = j.script_id
ORDER BY j.created_at DESC, j.id DESC
LIMIT $1`

func (r *PostgresRepo) QueueSnapshot(ctx context.Context, limit int) ([]calls.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, queueSnapshotSQL, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: queue snapshot: %w", err)
	}
	defer rows.Close()

	var out []calls.QueueEntry
	for rows.Next() {
		var e calls.QueueEntry
		var status string
		if err := rows.Scan(&e.ID, &e.ScriptID, &status, &e.CreatedAt, &e.UpdatedAt, &e.Locale, &e.ScriptText); err != nil {
			return nil, fmt.Errorf("store: scan queue entry: %w", err)
		}
		e.Status = calls.JobStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

const logSnapshotSQL = `SELECT l.id, l.job_id, l.script_id, l.response, l.audio_path, l.created_at, s.locale
FROM call_logs l JOIN scripts s ON s.id = l.script_id
ORDER BY l.created_at DESC, l.id DESC
LIMIT $1`

func (r *PostgresRepo) LogSnapshot(ctx context.Context, limit int) ([]calls.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, logSnapshotSQL, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: log snapshot: %w", err)
	}
	defer rows.Close()

	var out []calls.LogEntry
	for rows.Next() {
		var e calls.LogEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.ScriptID, &e.Response, &e.AudioPath, &e.CreatedAt, &e.Locale); err != nil {
			return nil, fmt.Errorf("store: scan log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const countJobsSQL = `SELECT status, COUNT(*) FROM jobs GROUP BY status`

func (r *PostgresRepo) CountJobsByStatus(ctx context.Context) (map[calls.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, countJobsSQL)
	if err != nil {
		return nil, fmt.Errorf("store: count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[calls.JobStatus]int, len(calls.Statuses))
	for _, s := range calls.Statuses {
		out[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		out[calls.JobStatus(status)] = n
	}
	return out, rows.Err()
}
