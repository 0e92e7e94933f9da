package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmsync/internal/models"
	"crmsync/internal/repositories"
	"crmsync/internal/syncbridge"
)

// Store is the slice of persistence the bridge reads and repairs.
type Store interface {
	repositories.DealRepository
	repositories.StageRepository
	repositories.ClientRepository
}

// Bridge pushes local deal changes to Chatwoot.
type Bridge struct {
	Client *Client
	Store  Store
	Logger *zap.Logger
	Now    func() time.Time
}

var _ syncbridge.Bridge = (*Bridge)(nil)

func NewBridge(client *Client, store Store, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{Client: client, Store: store, Logger: logger, Now: func() time.Time { return time.Now().UTC() }}
}

// classify marks client errors that a retry cannot fix as permanent.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 &&
		apiErr.Status != http.StatusRequestTimeout && apiErr.Status != http.StatusTooManyRequests {
		return errors.Join(syncbridge.ErrPermanent, err)
	}
	return err
}

func permanent(msg string) error {
	return errors.Join(syncbridge.ErrPermanent, errors.New(msg))
}

// PushStage mirrors the deal's stage as the conversation's only stage label.
func (b *Bridge) PushStage(ctx context.Context, owner uuid.UUID, p models.SyncPayload) (syncbridge.Result, error) {
	if p.DealID == nil {
		return syncbridge.Result{}, permanent("deal_id is required")
	}
	log := b.Logger.With(zap.String("deal", p.DealID.String()))

	deal, err := b.Store.GetDeal(ctx, owner, *p.DealID)
	if errors.Is(err, repositories.ErrNotFound) {
		return syncbridge.Result{Success: true, Message: "deal no longer exists"}, nil
	}
	if err != nil {
		return syncbridge.Result{}, err
	}
	if p.NewStageID != nil && *p.NewStageID != deal.StageID {
		// a later move is queued behind this one
		return syncbridge.Result{Success: true, Message: "superseded by a newer stage change"}, nil
	}
	if deal.ClientID == nil && deal.ChatwootConversationID == nil {
		return syncbridge.Result{Success: true, Message: "nothing to sync: deal has no client or conversation"}, nil
	}

	conversationID, err := b.recoverConversation(ctx, owner, deal, log)
	if err != nil {
		return syncbridge.Result{}, err
	}
	if conversationID == 0 {
		return syncbridge.Result{Success: false, Message: "no active conversation found for this client"}, nil
	}

	stages, err := b.Store.ListStages(ctx, owner, nil)
	if err != nil {
		return syncbridge.Result{}, err
	}
	stageLabels := make(map[string]bool, len(stages))
	var newLabel string
	for _, st := range stages {
		stageLabels[models.NormalizeLabel(st.Label())] = true
		if st.ID == deal.StageID {
			newLabel = st.Label()
		}
	}
	if newLabel == "" {
		return syncbridge.Result{Success: false, Message: "new stage label not found"}, nil
	}

	conv, err := b.Client.GetConversation(ctx, conversationID)
	if err != nil {
		return syncbridge.Result{}, classify(err)
	}
	plan := planLabelSwap(conv.Labels, stageLabels, newLabel)
	for _, label := range plan.Remove {
		if err := b.Client.RemoveConversationLabel(ctx, conversationID, label); err != nil {
			log.Warn("[chatwoot][stage] label not removed", zap.String("label", label), zap.Error(err))
		}
	}
	if !plan.HasNew {
		if err := b.Client.AddConversationLabels(ctx, conversationID, []string{newLabel}); err != nil {
			return syncbridge.Result{}, classify(err)
		}
	}

	final, err := b.Client.GetConversation(ctx, conversationID)
	if err != nil {
		return syncbridge.Result{}, classify(err)
	}
	present := make(map[string]bool, len(final.Labels))
	for _, l := range final.Labels {
		present[models.NormalizeLabel(l)] = true
	}
	var stuck []string
	for _, l := range plan.Remove {
		if present[models.NormalizeLabel(l)] {
			stuck = append(stuck, l)
		}
	}
	res := syncbridge.Result{Success: true, Message: "stage updated in chatwoot"}
	if len(stuck) > 0 {
		res.Warnings = []string{"labels not removed: " + strings.Join(stuck, ", ")}
	}
	log.Info("[chatwoot][stage] labels updated",
		zap.Int64("conversation", conversationID), zap.String("label", newLabel), zap.Strings("removed", plan.Remove))
	return res, nil
}

// recoverConversation returns the deal's conversation, looking it up
// through the client's contact when the deal has none and saving it.
func (b *Bridge) recoverConversation(ctx context.Context, owner uuid.UUID, deal *models.Deal, log *zap.Logger) (int64, error) {
	if deal.ChatwootConversationID != nil {
		return *deal.ChatwootConversationID, nil
	}
	if deal.ClientID == nil {
		return 0, nil
	}
	client, err := b.Store.GetClient(ctx, owner, *deal.ClientID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if client.ChatwootContactID == nil {
		log.Info("[chatwoot][stage] client has no contact yet")
		return 0, nil
	}
	convs, err := b.Client.ContactConversations(ctx, *client.ChatwootContactID)
	if err != nil {
		log.Warn("[chatwoot][stage] contact conversations failed", zap.Error(err))
		return 0, nil
	}
	if len(convs) == 0 {
		return 0, nil
	}
	id := convs[0].ID
	if err := b.Store.SetDealConversation(ctx, owner, deal.ID, id); err != nil {
		log.Warn("[chatwoot][stage] conversation id not saved", zap.Error(err))
	} else {
		log.Info("[chatwoot][stage] conversation recovered", zap.Int64("conversation", id))
	}
	return id, nil
}

// SyncDealAttributes makes sure the client exists as a contact with a
// labelled conversation and leaves an audit note with the deal's state.
func (b *Bridge) SyncDealAttributes(ctx context.Context, owner uuid.UUID, p models.SyncPayload) (syncbridge.Result, error) {
	if p.DealID == nil {
		return syncbridge.Result{}, permanent("deal_id is required")
	}
	log := b.Logger.With(zap.String("deal", p.DealID.String()))

	deal, err := b.Store.GetDeal(ctx, owner, *p.DealID)
	if errors.Is(err, repositories.ErrNotFound) {
		return syncbridge.Result{Success: true, Message: "deal no longer exists"}, nil
	}
	if err != nil {
		return syncbridge.Result{}, err
	}
	if deal.ClientID == nil {
		return syncbridge.Result{Success: true, Message: "no client to sync"}, nil
	}
	client, err := b.Store.GetClient(ctx, owner, *deal.ClientID)
	if errors.Is(err, repositories.ErrNotFound) {
		return syncbridge.Result{Success: true, Message: "no client to sync"}, nil
	}
	if err != nil {
		return syncbridge.Result{}, err
	}

	contactID, err := b.ensureContact(ctx, client, log)
	if err != nil {
		return syncbridge.Result{Success: false, Message: "failed to sync contact: " + err.Error()}, nil
	}
	if contactID == 0 {
		return syncbridge.Result{Success: false, Message: "contact not found or created"}, nil
	}

	stage, err := b.Store.GetStage(ctx, owner, deal.StageID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return syncbridge.Result{}, err
	}
	var warnings []string
	stageName := ""
	if stage != nil {
		stageName = stage.Name
		conversationID := b.ensureConversation(ctx, deal, contactID, log)
		if conversationID != 0 {
			if err := b.Client.AddConversationLabels(ctx, conversationID, []string{stage.Label()}); err != nil {
				log.Warn("[chatwoot][attributes] label not applied", zap.Error(err))
				warnings = append(warnings, "stage label not applied")
			}
			if deal.ChatwootConversationID == nil || *deal.ChatwootConversationID != conversationID {
				if err := b.Store.SetDealConversation(ctx, owner, deal.ID, conversationID); err != nil {
					log.Warn("[chatwoot][attributes] conversation id not saved", zap.Error(err))
				}
			}
		}
	}

	if err := b.Client.CreateContactNote(ctx, contactID, updateNote(deal.Title, deal.Value, stageName)); err != nil {
		log.Warn("[chatwoot][attributes] audit note failed", zap.Error(err))
		warnings = append(warnings, "audit note not created")
	}
	return syncbridge.Result{Success: true, Message: "deal audit note created", Warnings: warnings}, nil
}

// ensureContact finds the client's contact by e-mail, then phone, and
// creates it otherwise. A duplicate rejection falls back to a name search.
func (b *Bridge) ensureContact(ctx context.Context, client *models.Client, log *zap.Logger) (int64, error) {
	if client.ChatwootContactID != nil {
		return *client.ChatwootContactID, nil
	}
	var contactID int64
	if client.Email != "" {
		if found, err := b.Client.SearchContacts(ctx, client.Email); err == nil && len(found) > 0 {
			contactID = found[0].ID
		}
	}
	if contactID == 0 && client.Phone != "" {
		if found, err := b.Client.SearchContacts(ctx, models.PhoneDigits(client.Phone)); err == nil && len(found) > 0 {
			contactID = found[0].ID
		}
	}
	if contactID == 0 {
		nc := NewContact{
			Name:  client.Name,
			Email: client.Email,
			CustomAttributes: map[string]any{
				"source":    "crm_sync",
				"synced_at": b.Now().Format(time.RFC3339),
			},
		}
		if phone, ok := FormatPhoneE164(client.Phone); ok {
			nc.PhoneNumber = phone
		}
		created, err := b.Client.CreateContact(ctx, nc)
		switch {
		case err == nil:
			contactID = created.ID
		case HasStatus(err, http.StatusUnprocessableEntity):
			if found, serr := b.Client.SearchContacts(ctx, client.Name); serr == nil && len(found) > 0 {
				contactID = found[0].ID
			}
		default:
			return 0, err
		}
	}
	if contactID != 0 {
		if err := b.Store.SetClientContact(ctx, client.OwnerID, client.ID, contactID); err != nil {
			log.Warn("[chatwoot][contact] contact id not saved", zap.Error(err))
		}
	}
	return contactID, nil
}

// ensureConversation returns the contact's first conversation, opening one
// in the first inbox when there is none. Zero means none could be had.
func (b *Bridge) ensureConversation(ctx context.Context, deal *models.Deal, contactID int64, log *zap.Logger) int64 {
	if convs, err := b.Client.ContactConversations(ctx, contactID); err == nil && len(convs) > 0 {
		return convs[0].ID
	}
	inboxes, err := b.Client.ListInboxes(ctx)
	if err != nil || len(inboxes) == 0 {
		log.Warn("[chatwoot][attributes] no inbox to open a conversation", zap.Error(err))
		return 0
	}
	conv, err := b.Client.CreateConversation(ctx, inboxes[0].ID, contactID)
	if err != nil {
		log.Warn("[chatwoot][attributes] conversation not created", zap.Error(err))
		return 0
	}
	log.Info("[chatwoot][attributes] conversation opened",
		zap.Int64("conversation", conv.ID), zap.String("deal", deal.ID.String()))
	return conv.ID
}

// PushDeletion leaves a removal note on the client's contact.
func (b *Bridge) PushDeletion(ctx context.Context, owner uuid.UUID, p models.SyncPayload) (syncbridge.Result, error) {
	if p.ClientID == nil {
		return syncbridge.Result{}, permanent("client_id is required")
	}
	client, err := b.Store.GetClient(ctx, owner, *p.ClientID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && client.ChatwootContactID == nil) {
		return syncbridge.Result{Success: true, Message: "client not synced to chatwoot, no note created"}, nil
	}
	if err != nil {
		return syncbridge.Result{}, err
	}
	if err := b.Client.CreateContactNote(ctx, *client.ChatwootContactID, removalNote(p.DealTitle)); err != nil {
		return syncbridge.Result{Success: false, Message: "failed to create note: " + err.Error()}, classify(err)
	}
	return syncbridge.Result{Success: true, Message: "deletion note created"}, nil
}

// SyncStageLabels creates a label per stage or updates the color of the
// existing one.
func (b *Bridge) SyncStageLabels(ctx context.Context, owner uuid.UUID) (syncbridge.Result, error) {
	stages, err := b.Store.ListStages(ctx, owner, nil)
	if err != nil {
		return syncbridge.Result{}, err
	}
	existing, err := b.Client.ListLabels(ctx)
	if err != nil {
		if cerr := classify(err); errors.Is(cerr, syncbridge.ErrPermanent) {
			return syncbridge.Result{}, cerr
		}
		b.Logger.Warn("[chatwoot][labels] listing failed, creating all", zap.Error(err))
	}
	find := func(labels []Label, title string) *Label {
		for i := range labels {
			if strings.EqualFold(labels[i].Title, title) {
				return &labels[i]
			}
		}
		return nil
	}

	created, updated := 0, 0
	var problems []string
	for _, st := range stages {
		title := st.Label()
		color := LabelColor(st.Color)
		desc := "Etapa CRM: " + st.Name

		if l := find(existing, title); l != nil {
			if err := b.Client.UpdateLabel(ctx, l.ID, color, desc); err != nil {
				problems = append(problems, st.Name+": "+err.Error())
				continue
			}
			updated++
			continue
		}
		err := b.Client.CreateLabel(ctx, Label{Title: title, Description: desc, Color: color})
		switch {
		case err == nil:
			created++
		case HasStatus(err, http.StatusUnprocessableEntity):
			refreshed, rerr := b.Client.ListLabels(ctx)
			if rerr != nil {
				problems = append(problems, st.Name+": "+rerr.Error())
				continue
			}
			if l := find(refreshed, title); l != nil {
				if uerr := b.Client.UpdateLabel(ctx, l.ID, color, desc); uerr != nil {
					problems = append(problems, st.Name+": "+uerr.Error())
					continue
				}
				updated++
			}
		default:
			problems = append(problems, st.Name+": "+err.Error())
		}
	}
	b.Logger.Info("[chatwoot][labels] sync completed",
		zap.Int("created", created), zap.Int("updated", updated), zap.Int("errors", len(problems)))
	return syncbridge.Result{
		Success:  true,
		Message:  fmt.Sprintf("%d created, %d updated of %d stages", created, updated, len(stages)),
		Warnings: problems,
	}, nil
}

// Validate checks the credentials by listing inboxes.
func (b *Bridge) Validate(ctx context.Context) syncbridge.Result {
	inboxes, err := b.Client.ListInboxes(ctx)
	if err == nil {
		return syncbridge.Result{Success: true, Message: "connected, " + strconv.Itoa(len(inboxes)) + " inbox(es) found"}
	}
	switch {
	case HasStatus(err, http.StatusUnauthorized):
		return syncbridge.Result{Message: "invalid API token"}
	case HasStatus(err, http.StatusNotFound):
		return syncbridge.Result{Message: "wrong URL or account id"}
	default:
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return syncbridge.Result{Message: "could not connect to the configured URL: " + err.Error()}
		}
		return syncbridge.Result{Message: err.Error()}
	}
}
