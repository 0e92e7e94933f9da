package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"crmsync/internal/models"
)

const stageColumns = `id, user_id, pipeline_id, name, color, chatwoot_label, position, created_at`

func scanStage(row interface{ Scan(...any) error }) (*models.Stage, error) {
	var (
		st       models.Stage
		pipeline uuid.NullUUID
		label    sql.NullString
	)
	if err := row.Scan(&st.ID, &st.OwnerID, &pipeline, &st.Name, &st.Color, &label, &st.Position, &st.CreatedAt); err != nil {
		return nil, err
	}
	if pipeline.Valid {
		id := pipeline.UUID
		st.PipelineID = &id
	}
	st.ChatwootLabel = stringPtr(label)
	return &st, nil
}

func (s *PostgresStore) ListStages(ctx context.Context, owner uuid.UUID, pipelineID *uuid.UUID) ([]*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM crm_stages WHERE user_id = $1`
	args := []any{owner}
	if pipelineID != nil {
		query += ` AND pipeline_id = $2`
		args = append(args, *pipelineID)
	}
	query += ` ORDER BY position ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var res []*models.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func getStage(ctx context.Context, q queryer, owner, id uuid.UUID, lock bool) (*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM crm_stages WHERE id = $1 AND user_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	st, err := scanStage(q.QueryRowContext(ctx, query, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetStage(ctx context.Context, owner, id uuid.UUID) (*models.Stage, error) {
	return getStage(ctx, s.db, owner, id, false)
}

func (s *PostgresStore) AppendStages(ctx context.Context, owner, pipelineID uuid.UUID, stages []*models.Stage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// the pipeline row lock serializes appends to one pipeline
		if _, err := getPipeline(ctx, tx, owner, pipelineID, true); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crm_stages WHERE pipeline_id = $1`, pipelineID).Scan(&count); err != nil {
			return fmt.Errorf("count stages: %w", err)
		}
		now := s.now()
		for i, st := range stages {
			pid := pipelineID
			st.OwnerID = owner
			st.PipelineID = &pid
			st.Position = count + i
			st.CreatedAt = now
			_, err := tx.ExecContext(ctx, `
				INSERT INTO crm_stages (id, user_id, pipeline_id, name, color, chatwoot_label, position, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				st.ID, st.OwnerID, pipelineID, st.Name, st.Color, nullString(st.ChatwootLabel), st.Position, st.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert stage %q: %w", st.Name, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpdateStage(ctx context.Context, st *models.Stage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crm_stages SET name = $1, color = $2, chatwoot_label = $3
		WHERE id = $4 AND user_id = $5`,
		st.Name, st.Color, nullString(st.ChatwootLabel), st.ID, st.OwnerID)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage %s: %w", st.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ReorderStages(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return ErrInvalidOrder
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		first, err := getStage(ctx, tx, owner, ids[0], false)
		if err != nil {
			return err
		}
		if first.PipelineID == nil {
			return ErrInvalidOrder
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM crm_stages WHERE pipeline_id = $1 AND user_id = $2 FOR UPDATE`, *first.PipelineID, owner)
		if err != nil {
			return fmt.Errorf("lock stages: %w", err)
		}
		existing, err := scanIDs(rows)
		if err != nil {
			return err
		}
		if !sameIDSet(existing, ids) {
			return ErrInvalidOrder
		}
		order := make([]string, len(ids))
		for i, id := range ids {
			order[i] = id.String()
		}
		// the position constraint is deferred until commit
		if _, err := tx.ExecContext(ctx, `
			UPDATE crm_stages s SET position = o.ord - 1
			FROM unnest($1::uuid[]) WITH ORDINALITY AS o(id, ord)
			WHERE s.id = o.id AND s.user_id = $2`, pq.Array(order), owner); err != nil {
			return fmt.Errorf("reorder stages: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) DeleteStage(ctx context.Context, owner, id uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		st, err := getStage(ctx, tx, owner, id, true)
		if err != nil {
			return err
		}
		var deals int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crm_deals WHERE stage_id = $1`, id).Scan(&deals); err != nil {
			return fmt.Errorf("count deals: %w", err)
		}
		if deals > 0 {
			return fmt.Errorf("%w: %d deal(s)", ErrStageNotEmpty, deals)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM crm_stages WHERE id = $1 AND user_id = $2`, id, owner); err != nil {
			return fmt.Errorf("delete stage: %w", err)
		}
		if st.PipelineID != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE crm_stages SET position = position - 1
				WHERE pipeline_id = $1 AND position > $2`, *st.PipelineID, st.Position); err != nil {
				return fmt.Errorf("compact stage positions: %w", err)
			}
		}
		return nil
	})
}
