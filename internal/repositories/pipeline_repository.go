package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

const pipelineColumns = `id, user_id, name, description, position, is_default, created_at, updated_at`

func scanPipeline(row interface{ Scan(...any) error }) (*models.Pipeline, error) {
	var (
		p    models.Pipeline
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &desc, &p.Position, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = stringPtr(desc)
	return &p, nil
}

func (s *PostgresStore) ListPipelines(ctx context.Context, owner uuid.UUID) ([]*models.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM crm_pipelines WHERE user_id = $1 ORDER BY position ASC, created_at ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var res []*models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func getPipeline(ctx context.Context, q queryer, owner, id uuid.UUID, lock bool) (*models.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM crm_pipelines WHERE id = $1 AND user_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPipeline(q.QueryRowContext(ctx, query, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPipeline(ctx context.Context, owner, id uuid.UUID) (*models.Pipeline, error) {
	return getPipeline(ctx, s.db, owner, id, false)
}

func (s *PostgresStore) CreatePipeline(ctx context.Context, p *models.Pipeline, makeDefault bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// serializes concurrent creates for one owner
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.OwnerID.String()); err != nil {
			return fmt.Errorf("lock owner pipelines: %w", err)
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crm_pipelines WHERE user_id = $1`, p.OwnerID).Scan(&count); err != nil {
			return fmt.Errorf("count pipelines: %w", err)
		}
		p.Position = count
		p.IsDefault = makeDefault || count == 0
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE crm_pipelines SET is_default = false, updated_at = now() WHERE user_id = $1 AND is_default`, p.OwnerID); err != nil {
				return fmt.Errorf("clear default pipeline: %w", err)
			}
		}
		now := s.now()
		p.CreatedAt, p.UpdatedAt = now, now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO crm_pipelines (id, user_id, name, description, position, is_default, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.OwnerID, p.Name, nullString(p.Description), p.Position, p.IsDefault, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert pipeline: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	p.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE crm_pipelines SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND user_id = $5`,
		p.Name, nullString(p.Description), p.UpdatedAt, p.ID, p.OwnerID)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetDefaultPipeline(ctx context.Context, owner, id uuid.UUID) (*models.Pipeline, error) {
	var out *models.Pipeline
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getPipeline(ctx, tx, owner, id, true); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE crm_pipelines SET is_default = false, updated_at = now() WHERE user_id = $1 AND is_default AND id <> $2`, owner, id); err != nil {
			return fmt.Errorf("clear default pipeline: %w", err)
		}
		p, err := scanPipeline(tx.QueryRowContext(ctx, `
			UPDATE crm_pipelines SET is_default = true, updated_at = now()
			WHERE id = $1 AND user_id = $2
			RETURNING `+pipelineColumns, id, owner))
		if err != nil {
			return fmt.Errorf("set default pipeline: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

func (s *PostgresStore) DeletePipeline(ctx context.Context, owner, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getPipeline(ctx, tx, owner, id, true)
		if err != nil {
			return err
		}
		if p.IsDefault {
			return ErrDefaultPipeline
		}
		var stages int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crm_stages WHERE pipeline_id = $1`, id).Scan(&stages); err != nil {
			return fmt.Errorf("count stages: %w", err)
		}
		if stages > 0 {
			return fmt.Errorf("%w: %d stage(s)", ErrPipelineNotEmpty, stages)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM crm_pipelines WHERE id = $1 AND user_id = $2`, id, owner); err != nil {
			return fmt.Errorf("delete pipeline: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE crm_pipelines SET position = position - 1
			WHERE user_id = $1 AND position > $2`, owner, p.Position); err != nil {
			return fmt.Errorf("compact pipeline positions: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ReorderPipelines(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM crm_pipelines WHERE user_id = $1 FOR UPDATE`, owner)
		if err != nil {
			return fmt.Errorf("lock pipelines: %w", err)
		}
		existing, err := scanIDs(rows)
		if err != nil {
			return err
		}
		if !sameIDSet(existing, ids) {
			return ErrInvalidOrder
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE crm_pipelines SET position = $1, updated_at = now() WHERE id = $2 AND user_id = $3`, i, id, owner); err != nil {
				return fmt.Errorf("reorder pipeline %s: %w", id, err)
			}
		}
		return nil
	})
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sameIDSet reports whether order lists every id of existing exactly once.
func sameIDSet(existing, order []uuid.UUID) bool {
	if len(existing) != len(order) {
		return false
	}
	want := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		want[id] = true
	}
	for _, id := range order {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}
