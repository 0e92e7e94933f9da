package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

const dealSelect = `
	SELECT d.id, d.user_id, d.client_id, d.stage_id, d.chatwoot_conversation_id, d.title, d.value,
	       d.expected_close_date, d.notes, d.sync_token, d.last_sync_source, d.position,
	       d.created_at, d.updated_at,
	       c.id, c.name, c.phone, c.email
	FROM crm_deals d
	LEFT JOIN clientes c ON c.id = d.client_id AND c.user_id = d.user_id`

func scanDeal(row interface{ Scan(...any) error }) (*models.Deal, error) {
	var (
		d            models.Deal
		clientID     uuid.NullUUID
		conversation sql.NullInt64
		closeDate    sql.NullTime
		notes        sql.NullString
		token        uuid.NullUUID
		source       sql.NullString
		refID        uuid.NullUUID
		refName      sql.NullString
		refPhone     sql.NullString
		refEmail     sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.OwnerID, &clientID, &d.StageID, &conversation, &d.Title, &d.Value,
		&closeDate, &notes, &token, &source, &d.Position,
		&d.CreatedAt, &d.UpdatedAt,
		&refID, &refName, &refPhone, &refEmail,
	)
	if err != nil {
		return nil, err
	}
	if clientID.Valid {
		id := clientID.UUID
		d.ClientID = &id
	}
	d.ChatwootConversationID = int64Ptr(conversation)
	if closeDate.Valid {
		t := closeDate.Time
		d.ExpectedCloseDate = &t
	}
	d.Notes = stringPtr(notes)
	if token.Valid {
		t := token.UUID
		d.SyncToken = &t
	}
	d.LastSyncSource = models.SyncSource(source.String)
	if refID.Valid {
		d.Client = &models.ClientRef{ID: refID.UUID, Name: refName.String, Phone: refPhone.String, Email: refEmail.String}
	}
	return &d, nil
}

func queryDeals(ctx context.Context, q queryer, query string, args ...any) ([]*models.Deal, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var res []*models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *PostgresStore) ListDeals(ctx context.Context, owner uuid.UUID, pipelineID *uuid.UUID) ([]*models.Deal, error) {
	query := dealSelect + ` WHERE d.user_id = $1`
	args := []any{owner}
	if pipelineID != nil {
		query += ` AND d.stage_id IN (SELECT id FROM crm_stages WHERE pipeline_id = $2)`
		args = append(args, *pipelineID)
	}
	query += ` ORDER BY d.position ASC, d.created_at ASC`
	return queryDeals(ctx, s.db, query, args...)
}

func getDeal(ctx context.Context, q queryer, owner, id uuid.UUID) (*models.Deal, error) {
	d, err := scanDeal(q.QueryRowContext(ctx, dealSelect+` WHERE d.id = $1 AND d.user_id = $2`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, owner, id uuid.UUID) (*models.Deal, error) {
	return getDeal(ctx, s.db, owner, id)
}

func (s *PostgresStore) FindDealsByConversation(ctx context.Context, owner uuid.UUID, conversationID int64) ([]*models.Deal, error) {
	return queryDeals(ctx, s.db,
		dealSelect+` WHERE d.user_id = $1 AND d.chatwoot_conversation_id = $2 ORDER BY d.updated_at DESC`,
		owner, conversationID)
}

// checkStageOwner rejects stage ids that belong to another owner.
func checkStageOwner(ctx context.Context, q queryer, owner, stageID uuid.UUID) error {
	var found uuid.UUID
	err := q.QueryRowContext(ctx, `SELECT id FROM crm_stages WHERE id = $1 AND user_id = $2`, stageID, owner).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("stage %s: %w", stageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check stage: %w", err)
	}
	return nil
}

// checkClientOwner rejects client ids that belong to another owner.
func checkClientOwner(ctx context.Context, q queryer, owner, clientID uuid.UUID) error {
	var found uuid.UUID
	err := q.QueryRowContext(ctx, `SELECT id FROM clientes WHERE id = $1 AND user_id = $2`, clientID, owner).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check client: %w", err)
	}
	return nil
}

func checkDealRefs(ctx context.Context, q queryer, d *models.Deal) error {
	if err := checkStageOwner(ctx, q, d.OwnerID, d.StageID); err != nil {
		return err
	}
	if d.ClientID != nil {
		return checkClientOwner(ctx, q, d.OwnerID, *d.ClientID)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (s *PostgresStore) CreateDeal(ctx context.Context, d *models.Deal, outbox ...*models.OutboxEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDealRefs(ctx, tx, d); err != nil {
			return err
		}
		now := s.now()
		d.CreatedAt, d.UpdatedAt = now, now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO crm_deals (id, user_id, client_id, stage_id, chatwoot_conversation_id, title, value,
			                       expected_close_date, notes, sync_token, last_sync_source, position,
			                       created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			d.ID, d.OwnerID, nullUUID(d.ClientID), d.StageID, nullInt64(d.ChatwootConversationID), d.Title, d.Value,
			d.ExpectedCloseDate, nullString(d.Notes), nullUUID(d.SyncToken), string(d.LastSyncSource), d.Position,
			d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert deal: %w", err)
		}
		return enqueueOutbox(ctx, tx, outbox)
	})
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, d *models.Deal, outbox ...*models.OutboxEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDealRefs(ctx, tx, d); err != nil {
			return err
		}
		d.UpdatedAt = s.now()
		res, err := tx.ExecContext(ctx, `
			UPDATE crm_deals
			SET client_id = $1, stage_id = $2, chatwoot_conversation_id = $3, title = $4, value = $5,
			    expected_close_date = $6, notes = $7, sync_token = $8, last_sync_source = $9,
			    position = $10, updated_at = $11
			WHERE id = $12 AND user_id = $13`,
			nullUUID(d.ClientID), d.StageID, nullInt64(d.ChatwootConversationID), d.Title, d.Value,
			d.ExpectedCloseDate, nullString(d.Notes), nullUUID(d.SyncToken), string(d.LastSyncSource),
			d.Position, d.UpdatedAt, d.ID, d.OwnerID)
		if err != nil {
			return fmt.Errorf("update deal: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("deal %s: %w", d.ID, ErrNotFound)
		}
		return enqueueOutbox(ctx, tx, outbox)
	})
}

func (s *PostgresStore) DeleteDeal(ctx context.Context, owner, id uuid.UUID, outbox ...*models.OutboxEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM crm_deals WHERE id = $1 AND user_id = $2`, id, owner)
		if err != nil {
			return fmt.Errorf("delete deal: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("deal %s: %w", id, ErrNotFound)
		}
		return enqueueOutbox(ctx, tx, outbox)
	})
}

func (s *PostgresStore) SetDealConversation(ctx context.Context, owner, id uuid.UUID, conversationID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crm_deals SET chatwoot_conversation_id = $1 WHERE id = $2 AND user_id = $3`,
		conversationID, id, owner)
	if err != nil {
		return fmt.Errorf("set deal conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return nil
}
