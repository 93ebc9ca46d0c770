package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/adcraft/internal/metrics"
	"github.com/foxzi/adcraft/internal/models"
)

// ErrInterrupted is recorded on jobs that were running when the process stopped
var ErrInterrupted = errors.New("interrupted by restart")

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	j.id, j.campaign_id, c.name, j.campaign_snapshot, j.status, j.progress,
	j.total_count, j.completed_count, j.failed_count, j.output_dir, j.zip_path,
	j.archive_object, j.archive_url, j.error, j.created_at, j.started_at, j.completed_at`

// Create queues a new job. job.Campaign is stored as a snapshot so later
// campaign edits do not change what the job renders.
func (r *JobRepository) Create(job *models.GenerationJob) error {
	if job.Campaign == nil {
		return fmt.Errorf("failed to create job: campaign snapshot is required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CampaignID = job.Campaign.ID
	job.Status = models.JobQueued
	job.CreatedAt = time.Now()

	snapshot, err := json.Marshal(job.Campaign)
	if err != nil {
		return fmt.Errorf("failed to encode campaign snapshot: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO generation_jobs (id, campaign_id, campaign_snapshot, status, output_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.CampaignID, string(snapshot), job.Status, job.OutputDir, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID returns a job without its assets, or nil if it does not exist
func (r *JobRepository) GetByID(id string) (*models.GenerationJob, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+`
		FROM generation_jobs j
		LEFT JOIN campaigns c ON j.campaign_id = c.id
		WHERE j.id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs with optional filtering, newest first
func (r *JobRepository) List(filter models.JobListFilter) ([]models.GenerationJob, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.CampaignID != "" {
		where += " AND j.campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Status != "" {
		where += " AND j.status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM generation_jobs j"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + jobColumns + `
		FROM generation_jobs j
		LEFT JOIN campaigns c ON j.campaign_id = c.id` + where + `
		ORDER BY j.created_at DESC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	jobs, err := r.queryJobs(query, args...)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListByCampaign returns the latest jobs of a campaign
func (r *JobRepository) ListByCampaign(campaignID string, limit int) ([]models.GenerationJob, error) {
	jobs, _, err := r.List(models.JobListFilter{CampaignID: campaignID, Limit: limit})
	return jobs, err
}

// HasActiveJob reports whether the campaign has a queued or running job
func (r *JobRepository) HasActiveJob(campaignID string) (bool, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM generation_jobs
		WHERE campaign_id = ? AND status IN (?, ?)`,
		campaignID, models.JobQueued, models.JobRunning,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetQueued returns the oldest queued jobs
func (r *JobRepository) GetQueued(limit int) ([]models.GenerationJob, error) {
	return r.queryJobs(`SELECT `+jobColumns+`
		FROM generation_jobs j
		LEFT JOIN campaigns c ON j.campaign_id = c.id
		WHERE j.status = ?
		ORDER BY j.created_at
		LIMIT ?`, models.JobQueued, limit)
}

// MarkRunning claims a queued job. It returns false when another runner got it first.
func (r *JobRepository) MarkRunning(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE generation_jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		models.JobRunning, time.Now(), id, models.JobQueued,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveAssets replaces the stored asset list of a job and its totals
func (r *JobRepository) SaveAssets(job *models.GenerationJob) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM generation_assets WHERE job_id = ?", job.ID); err != nil {
		return err
	}
	for i, a := range job.Assets {
		_, err := tx.Exec(`
			INSERT INTO generation_assets (job_id, position, id, variant_id, variant_name, size_id, size_name,
				platform, width, height, file_path, size_bytes, status, error, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, i, a.ID, a.VariantID, a.VariantName, a.SizeID, a.SizeName,
			a.Platform, a.Width, a.Height, a.FilePath, a.SizeBytes, a.Status, a.Error, a.StartedAt, a.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save asset %s: %w", a.ID, err)
		}
	}
	if _, err := tx.Exec(`
		UPDATE generation_jobs SET total_count = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
		job.TotalCount, job.StartedAt, job.ID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveProgress stores one finished asset and the job counters
func (r *JobRepository) SaveProgress(job *models.GenerationJob, asset *models.CampaignAsset) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE generation_assets SET file_path = ?, size_bytes = ?, status = ?, error = ?, started_at = ?, completed_at = ?
		WHERE job_id = ? AND id = ?`,
		asset.FilePath, asset.SizeBytes, asset.Status, asset.Error, asset.StartedAt, asset.CompletedAt,
		job.ID, asset.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save asset %s: %w", asset.ID, err)
	}

	_, err = tx.Exec(`
		UPDATE generation_jobs SET progress = ?, completed_count = ?, failed_count = ?
		WHERE id = ?`,
		job.Progress, job.CompletedCount, job.FailedCount, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save job progress: %w", err)
	}
	return tx.Commit()
}

// Finish stores the final state of a job
func (r *JobRepository) Finish(job *models.GenerationJob) error {
	if job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}
	_, err := r.db.Exec(`
		UPDATE generation_jobs SET status = ?, progress = ?, total_count = ?, completed_count = ?, failed_count = ?,
			zip_path = ?, archive_object = ?, archive_url = ?, error = ?, started_at = COALESCE(started_at, ?), completed_at = ?
		WHERE id = ?`,
		job.Status, job.Progress, job.TotalCount, job.CompletedCount, job.FailedCount,
		job.ZipPath, job.ArchiveObject, job.ArchiveURL, job.Error, job.StartedAt, job.CompletedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// GetAssets returns the assets of a job in render order
func (r *JobRepository) GetAssets(jobID string) ([]models.CampaignAsset, error) {
	rows, err := r.db.Query(`
		SELECT id, variant_id, variant_name, size_id, size_name, platform, width, height,
			file_path, size_bytes, status, error, started_at, completed_at
		FROM generation_assets
		WHERE job_id = ?
		ORDER BY position`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []models.CampaignAsset{}
	for rows.Next() {
		var a models.CampaignAsset
		var variantName, sizeName, platform, filePath, errMsg sql.NullString
		var startedAt, completedAt sql.NullTime
		err := rows.Scan(&a.ID, &a.VariantID, &variantName, &a.SizeID, &sizeName, &platform, &a.Width, &a.Height,
			&filePath, &a.SizeBytes, &a.Status, &errMsg, &startedAt, &completedAt)
		if err != nil {
			return nil, err
		}
		a.VariantName = variantName.String
		a.SizeName = sizeName.String
		a.Platform = platform.String
		a.FilePath = filePath.String
		a.Error = errMsg.String
		if startedAt.Valid {
			a.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			a.CompletedAt = &completedAt.Time
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// FailInterrupted marks jobs left running by a previous process as failed
func (r *JobRepository) FailInterrupted() (int64, error) {
	now := time.Now()
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE generation_assets SET status = ?, error = ?, completed_at = ?
		WHERE status IN (?, ?) AND job_id IN (SELECT id FROM generation_jobs WHERE status = ?)`,
		models.AssetFailed, ErrInterrupted.Error(), now,
		models.AssetPending, models.AssetRendering, models.JobRunning,
	); err != nil {
		return 0, err
	}

	res, err := tx.Exec(`
		UPDATE generation_jobs SET status = ?, error = ?, completed_at = ?,
			failed_count = total_count - completed_count
		WHERE status = ?`,
		models.JobFailed, ErrInterrupted.Error(), now, models.JobRunning,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// DeleteFinishedBefore removes finished jobs completed before cutoff and
// returns them so their output can be removed from disk
func (r *JobRepository) DeleteFinishedBefore(cutoff time.Time) ([]models.GenerationJob, error) {
	jobs, err := r.queryJobs(`SELECT `+jobColumns+`
		FROM generation_jobs j
		LEFT JOIN campaigns c ON j.campaign_id = c.id
		WHERE j.status IN (?, ?) AND j.completed_at < ?`,
		models.JobCompleted, models.JobFailed, cutoff)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if _, err := r.db.Exec("DELETE FROM generation_jobs WHERE id = ?", job.ID); err != nil {
			return nil, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
	}
	return jobs, nil
}

// JobStats returns queue gauges for the metrics collector
func (r *JobRepository) JobStats(ctx context.Context) (*metrics.JobStats, error) {
	stats := &metrics.JobStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM generation_jobs`,
		models.JobQueued, models.JobRunning,
	).Scan(&stats.Queued, &stats.Running)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.GenerationJob, error) {
	job := &models.GenerationJob{}
	var campaignName, zipPath, archiveObject, archiveURL, errMsg sql.NullString
	var snapshot []byte
	var startedAt, completedAt sql.NullTime

	err := s.Scan(&job.ID, &job.CampaignID, &campaignName, &snapshot, &job.Status, &job.Progress,
		&job.TotalCount, &job.CompletedCount, &job.FailedCount, &job.OutputDir, &zipPath,
		&archiveObject, &archiveURL, &errMsg, &job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.CampaignName = campaignName.String
	job.ZipPath = zipPath.String
	job.ArchiveObject = archiveObject.String
	job.ArchiveURL = archiveURL.String
	job.Error = errMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(snapshot) > 0 {
		job.Campaign = &models.Campaign{}
		if err := json.Unmarshal(snapshot, job.Campaign); err != nil {
			return nil, fmt.Errorf("failed to decode campaign snapshot of job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func (r *JobRepository) queryJobs(query string, args ...any) ([]models.GenerationJob, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.GenerationJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
