package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

const defaultOutboxLimit = 100

const outboxColumns = `id, user_id, payload, status, attempts, next_attempt_at, last_error, last_warning, created_at, updated_at`

func scanOutbox(row interface{ Scan(...any) error }) (*models.OutboxEntry, error) {
	var (
		e       models.OutboxEntry
		payload []byte
		status  string
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &payload, &status, &e.Attempts, &e.NextAttemptAt,
		&e.LastError, &e.LastWarning, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("decode outbox payload %s: %w", e.ID, err)
	}
	e.Status = models.OutboxStatus(status)
	return &e, nil
}

func enqueueOutbox(ctx context.Context, q queryer, entries []*models.OutboxEntry) error {
	for _, e := range entries {
		if e == nil {
			continue
		}
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode outbox payload: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO sync_outbox (id, user_id, action, deal_id, payload, status, attempts, next_attempt_at,
			                         last_error, last_warning, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID, e.OwnerID, string(e.Payload.Action), nullUUID(e.Payload.DealID), payload, string(e.Status),
			e.Attempts, e.NextAttemptAt, e.LastError, e.LastWarning, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) EnqueueOutbox(ctx context.Context, entries ...*models.OutboxEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return enqueueOutbox(ctx, tx, entries)
	})
}

func (s *PostgresStore) ClaimOutbox(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM sync_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sync_outbox o SET next_attempt_at = $2, updated_at = $1
		FROM due WHERE o.id = due.id
		RETURNING o.id, o.user_id, o.payload, o.status, o.attempts, o.next_attempt_at,
		          o.last_error, o.last_warning, o.created_at, o.updated_at`,
		now, leaseUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	var res []*models.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *PostgresStore) updateOutbox(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkOutboxDone(ctx context.Context, id uuid.UUID, warning string) error {
	return s.updateOutbox(ctx, id, `
		UPDATE sync_outbox SET status = 'done', attempts = attempts + 1, last_error = '', last_warning = $1, updated_at = $2
		WHERE id = $3`, warning, s.now(), id)
}

func (s *PostgresStore) MarkOutboxFailed(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return s.updateOutbox(ctx, id, `
		UPDATE sync_outbox SET attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = $4
		WHERE id = $5`, attempts, next, lastErr, s.now(), id)
}

func (s *PostgresStore) MarkOutboxDead(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return s.updateOutbox(ctx, id, `
		UPDATE sync_outbox SET status = 'dead', attempts = $1, last_error = $2, updated_at = $3
		WHERE id = $4`, attempts, lastErr, s.now(), id)
}

func (s *PostgresStore) ListOutbox(ctx context.Context, owner uuid.UUID, status models.OutboxStatus, limit int) ([]*models.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM sync_outbox WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR user_id = $1)`
	args := []any{owner}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var res []*models.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *PostgresStore) RequeueOutbox(ctx context.Context, owner, id uuid.UUID, now time.Time) error {
	return s.updateOutbox(ctx, id, `
		UPDATE sync_outbox SET status = 'pending', attempts = 0, next_attempt_at = $1, last_error = '', updated_at = $1
		WHERE id = $2 AND ($3 = '00000000-0000-0000-0000-000000000000'::uuid OR user_id = $3)`,
		now, id, owner)
}
