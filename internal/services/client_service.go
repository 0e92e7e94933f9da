package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"crmsync/internal/models"
	"crmsync/internal/repositories"
)

type ClientService struct {
	Repo repositories.ClientRepository
}

func NewClientService(repo repositories.ClientRepository) *ClientService {
	return &ClientService{Repo: repo}
}

func (s *ClientService) Upsert(ctx context.Context, sess Session, c *models.Client) error {
	if err := sess.valid(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.OwnerID = sess.OwnerID
	return s.Repo.UpsertClient(ctx, c)
}

func (s *ClientService) Get(ctx context.Context, sess Session, id uuid.UUID) (*models.Client, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	return s.Repo.GetClient(ctx, sess.OwnerID, id)
}

// LinkContact attaches a chat platform contact to the owner's client with
// the same e-mail or phone. It returns nil when no client matches.
func (s *ClientService) LinkContact(ctx context.Context, sess Session, contactID int64, email, phone string) (*models.Client, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	c, err := s.Repo.FindClientByContact(ctx, sess.OwnerID, email, phone)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.ChatwootContactID != nil && *c.ChatwootContactID == contactID {
		return c, nil
	}
	if err := s.Repo.SetClientContact(ctx, sess.OwnerID, c.ID, contactID); err != nil {
		return nil, fmt.Errorf("link contact: %w", err)
	}
	c.ChatwootContactID = &contactID
	return c, nil
}
