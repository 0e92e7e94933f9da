package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

const clientSelect = `SELECT id, user_id, name, phone, email, chatwoot_contact_id, chatwoot_synced_at FROM clientes`

func scanClient(row interface{ Scan(...any) error }) (*models.Client, error) {
	var (
		c       models.Client
		contact sql.NullInt64
		synced  sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Email, &contact, &synced); err != nil {
		return nil, err
	}
	c.ChatwootContactID = int64Ptr(contact)
	if synced.Valid {
		t := synced.Time
		c.ChatwootSyncedAt = &t
	}
	return &c, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, owner, id uuid.UUID) (*models.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, clientSelect+` WHERE id = $1 AND user_id = $2`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindClientByContact(ctx context.Context, owner uuid.UUID, email, phone string) (*models.Client, error) {
	if email != "" {
		c, err := scanClient(s.db.QueryRowContext(ctx,
			clientSelect+` WHERE user_id = $1 AND lower(email) = lower($2) LIMIT 1`, owner, email))
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find client by email: %w", err)
		}
	}
	if digits := models.PhoneDigits(phone); len(digits) >= 10 {
		c, err := scanClient(s.db.QueryRowContext(ctx,
			clientSelect+` WHERE user_id = $1 AND regexp_replace(phone, '\D', '', 'g') LIKE '%' || $2 LIMIT 1`,
			owner, digits[len(digits)-10:]))
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find client by phone: %w", err)
		}
	}
	return nil, fmt.Errorf("client %s/%s: %w", email, phone, ErrNotFound)
}

func (s *PostgresStore) UpsertClient(ctx context.Context, c *models.Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clientes (id, user_id, name, phone, email, chatwoot_contact_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email
		WHERE clientes.user_id = EXCLUDED.user_id`,
		c.ID, c.OwnerID, c.Name, c.Phone, c.Email, nullInt64(c.ChatwootContactID))
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetClientContact(ctx context.Context, owner, id uuid.UUID, contactID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clientes SET chatwoot_contact_id = $1, chatwoot_synced_at = $2
		WHERE id = $3 AND user_id = $4`, contactID, s.now(), id, owner)
	if err != nil {
		return fmt.Errorf("set client contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return nil
}
