package repository

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create creates a new provisioning log entry
func (r *LogRepository) Create(ctx context.Context, entry *models.ProvisionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioner.provision_logs (id, job_id, action, status, message)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query, entry.ID, entry.JobID, entry.Action, entry.Status, entry.Message)
	return err
}

// LogAction is a convenience helper that never fails the caller. The action
// log is the operator forensic trail for partial-saga failures, so losing an
// entry is logged but must not abort the run itself.
func (r *LogRepository) LogAction(ctx context.Context, jobID, action, status, message string) {
	entry := &models.ProvisionLog{
		JobID:   jobID,
		Action:  action,
		Status:  status,
		Message: message,
	}
	if err := r.Create(ctx, entry); err != nil {
		log.Printf("[LogRepo] Failed to write log entry (job=%s action=%s): %v", jobID, action, err)
	}
}

// GetByJobID lists the action trail for a job, oldest first.
func (r *LogRepository) GetByJobID(ctx context.Context, jobID string) ([]*models.ProvisionLog, error) {
	query := `
		SELECT id, job_id, action, status, message, created_at
		FROM provisioner.provision_logs
		WHERE job_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ProvisionLog
	for rows.Next() {
		e := &models.ProvisionLog{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.Action, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
