package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/fee-engine/billing"
)

// =============================================================================
// FEE PLAN OPERATIONS
// =============================================================================

// PlanRecord is a stored fee plan with its JSON config.
type PlanRecord struct {
	ID         string
	Name       string
	ConfigJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SavePlan saves a fee plan record. Saving an existing id bumps its version.
func (s *Store) SavePlan(ctx context.Context, plan PlanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO fee_plans (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = fee_plans.version + 1,
			updated_at = excluded.updated_at
	`

	version := plan.Version
	if version == 0 {
		version = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query, plan.ID, plan.Name, plan.ConfigJSON, version, now, now)
	return err
}

// GetPlan retrieves a fee plan by ID.
func (s *Store) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p PlanRecord
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM fee_plans WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := p.setTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns all fee plans ordered by name.
func (s *Store) ListPlans(ctx context.Context) ([]PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, config_json, version, created_at, updated_at FROM fee_plans ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []PlanRecord
	for rows.Next() {
		var p PlanRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.ConfigJSON, &p.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := p.setTimes(createdAt, updatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (p *PlanRecord) setTimes(createdAt, updatedAt string) error {
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("fee plan %s created at: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("fee plan %s updated at: %w", p.ID, err)
	}
	return nil
}

// DeletePlan removes a fee plan.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM fee_plans WHERE id = ?", id)
	return err
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// RunRecord is a persisted reconciliation sweep.
type RunRecord struct {
	ID            string
	Checked       int
	Discrepancies []billing.DiscrepancyReport
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// SaveReconciliationRun records the outcome of a reconciliation sweep.
func (s *Store) SaveReconciliationRun(ctx context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	discrepancies, err := json.Marshal(r.Discrepancies)
	if err != nil {
		return fmt.Errorf("encode discrepancies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, checked, discrepancies_json, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Checked, string(discrepancies), nullString(r.Error),
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	return err
}

// LatestReconciliationRun returns the most recently started run, or nil.
func (s *Store) LatestReconciliationRun(ctx context.Context) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r                                RunRecord
		discrepancies, started, finished string
		runErr                           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, checked, discrepancies_json, error, started_at, finished_at
		FROM reconciliation_runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&r.ID, &r.Checked, &discrepancies, &runErr, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(discrepancies), &r.Discrepancies); err != nil {
		return nil, fmt.Errorf("decode discrepancies for run %s: %w", r.ID, err)
	}
	r.Error = runErr.String
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("run %s started at: %w", r.ID, err)
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return nil, fmt.Errorf("run %s finished at: %w", r.ID, err)
	}
	return &r, nil
}
