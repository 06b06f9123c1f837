package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

// LedgerRepository persists the per-run step ledger. Each completed step is
// one row with its captured outputs, so a retried job resumes from the last
// completed step instead of replaying external side effects.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// RecordStep marks a step completed and captures its outputs. Re-recording
// the same step for a job overwrites the previous outputs.
func (r *LedgerRepository) RecordStep(ctx context.Context, jobID, step string, outputs models.StepOutputs) error {
	raw, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	query := `
		INSERT INTO provisioner.provision_steps (id, job_id, step, outputs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, step) DO UPDATE SET
			outputs = EXCLUDED.outputs,
			completed_at = now()`

	if _, err := r.pool.Exec(ctx, query, uuid.New().String(), jobID, step, raw); err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// CompletedSteps loads a job's ledger: the set of completed step names and
// the merged outputs in completion order.
func (r *LedgerRepository) CompletedSteps(ctx context.Context, jobID string) (map[string]bool, models.StepOutputs, error) {
	query := `
		SELECT step, outputs
		FROM provisioner.provision_steps
		WHERE job_id = $1
		ORDER BY completed_at ASC`

	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, models.StepOutputs{}, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]bool)
	var merged models.StepOutputs
	for rows.Next() {
		var step string
		var raw []byte
		if err := rows.Scan(&step, &raw); err != nil {
			return nil, models.StepOutputs{}, fmt.Errorf("scan step row: %w", err)
		}

		var outputs models.StepOutputs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &outputs); err != nil {
				return nil, models.StepOutputs{}, fmt.Errorf("decode step outputs: %w", err)
			}
		}

		completed[step] = true
		merged.Merge(outputs)
	}
	return completed, merged, rows.Err()
}
