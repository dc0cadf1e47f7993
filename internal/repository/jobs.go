package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/common"
)

// timeFormat is fixed-width so the TEXT timestamp columns sort
// lexicographically in both dialects.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Job is one registry row. The display id is the human-facing job
// identifier used in artifact paths and the API; the uuid is internal.
type Job struct {
	ID         uuid.UUID          `json:"-"`
	DisplayID  string             `json:"job_id"`
	Title      string             `json:"title,omitempty"`
	Modality   string             `json:"modality,omitempty"`
	State      constants.JobState `json:"state"`
	StopReason string             `json:"stop_reason,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// JobRepository persists job lifecycle rows. It satisfies the loop's
// registry interface.
type JobRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewJobRepository(db *DB, logger *slog.Logger) *JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepository{db: db, logger: logger}
}

// Create inserts a new job in state created.
func (r *JobRepository) Create(ctx context.Context, displayID, title string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		DisplayID: displayID,
		Title:     title,
		State:     constants.JobStateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.db.ExecContext(ctx, r.db.rebind(
		`INSERT INTO jobs (id, display_id, title, modality, state, stop_reason, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, '', ?, ?)`),
		job.ID.String(), job.DisplayID, job.Title, string(job.State),
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return nil, common.NewAppError("DB_INSERT_ERROR", "create job", err)
	}
	r.logger.Info("registry.job.created", "job_id", displayID)
	return job, nil
}

// UpdateState records a lifecycle transition.
func (r *JobRepository) UpdateState(ctx context.Context, displayID string, state constants.JobState, stopReason string) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind(
		`UPDATE jobs SET state = ?, stop_reason = ?, updated_at = ? WHERE display_id = ?`),
		string(state), stopReason, time.Now().UTC().Format(timeFormat), displayID)
	if err != nil {
		return common.NewAppError("DB_UPDATE_ERROR", "update job state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.WrapError(common.ErrNotFound, "job "+displayID)
	}
	return nil
}

// SetTitleModality stores what triage learned about the document. An
// empty title leaves the stored title untouched.
func (r *JobRepository) SetTitleModality(ctx context.Context, displayID, title, modality string) error {
	var err error
	if title == "" {
		_, err = r.db.ExecContext(ctx, r.db.rebind(
			`UPDATE jobs SET modality = ?, updated_at = ? WHERE display_id = ?`),
			modality, time.Now().UTC().Format(timeFormat), displayID)
	} else {
		_, err = r.db.ExecContext(ctx, r.db.rebind(
			`UPDATE jobs SET title = ?, modality = ?, updated_at = ? WHERE display_id = ?`),
			title, modality, time.Now().UTC().Format(timeFormat), displayID)
	}
	if err != nil {
		return common.NewAppError("DB_UPDATE_ERROR", "update job title/modality", err)
	}
	return nil
}

// GetByDisplayID fetches one job.
func (r *JobRepository) GetByDisplayID(ctx context.Context, displayID string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, display_id, title, modality, state, stop_reason, created_at, updated_at
		 FROM jobs WHERE display_id = ?`), displayID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.WrapError(common.ErrNotFound, "job "+displayID)
	}
	if err != nil {
		return nil, common.NewAppError("DB_QUERY_ERROR", "get job", err)
	}
	return job, nil
}

// List returns the most recent jobs, newest first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, r.db.rebind(
		`SELECT id, display_id, title, modality, state, stop_reason, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, common.NewAppError("DB_QUERY_ERROR", "list jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.NewAppError("DB_SCAN_ERROR", "scan job row", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job              Job
		id, created, mod string
		updated          string
	)
	if err := row.Scan(&id, &job.DisplayID, &job.Title, &mod, &job.State, &job.StopReason, &created, &updated); err != nil {
		return nil, err
	}
	job.Modality = mod
	if u, err := uuid.Parse(id); err == nil {
		job.ID = u
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}
