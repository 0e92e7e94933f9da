package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"crmsync/internal/services"
)

const (
	maxWebhookBody   = 1 << 20
	webhookSchemaURL = "https://crmsync.local/schemas/chatwoot-webhook.json"
)

const webhookSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event"],
  "properties": {
    "event": {"type": "string", "minLength": 1},
    "sync_token": {"type": ["string", "null"]},
    "account": {
      "type": "object",
      "properties": {"id": {"type": "integer"}}
    },
    "conversation": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "integer"},
        "labels": {"type": "array", "items": {"type": "string"}}
      }
    },
    "contact": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "integer"},
        "name": {"type": ["string", "null"]},
        "email": {"type": ["string", "null"]},
        "phone_number": {"type": ["string", "null"]}
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"event": {"enum": ["conversation_updated", "conversation_created"]}}},
      "then": {"required": ["conversation"]}
    },
    {
      "if": {"properties": {"event": {"const": "contact_created"}}},
      "then": {"required": ["contact"]}
    }
  ]
}`

type webhookContact struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

type webhookPayload struct {
	Event        string  `json:"event"`
	SyncToken    *string `json:"sync_token"`
	Conversation *struct {
		ID     int64    `json:"id"`
		Labels []string `json:"labels"`
	} `json:"conversation"`
	Contact *webhookContact `json:"contact"`
}

// WebhookHandler applies Chatwoot events to one owner's deals. The owner is
// part of the URL and the shared token is passed as ?token=.
type WebhookHandler struct {
	Deals   *services.DealService
	Clients *services.ClientService
	Token   string
	Logger  *zap.Logger
	schema  *jsonschema.Schema
}

func NewWebhookHandler(deals *services.DealService, clients *services.ClientService, token string, logger *zap.Logger) (*WebhookHandler, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("webhook schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(webhookSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("webhook schema: %w", err)
	}
	schema, err := compiler.Compile(webhookSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("webhook schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{Deals: deals, Clients: clients, Token: token, Logger: logger, schema: schema}, nil
}

// @Summary      Chatwoot webhook
// @Description  Applies conversation label changes to deals, links new contacts and opens deals for new conversations.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        owner_id  path   string  true  "Owner id"
// @Param        token     query  string  true  "Shared webhook token"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /webhooks/chatwoot/{owner_id} [post]
func (h *WebhookHandler) Chatwoot(c *gin.Context) {
	if h.Token == "" || subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.Token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}
	owner, ok := paramID(c, "owner_id")
	if !ok {
		return
	}
	sess := services.NewSession(owner)
	log := h.Logger.With(zap.String("owner", owner.String()))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not JSON"})
		return
	}
	if err := h.schema.Validate(inst); err != nil {
		log.Warn("[webhook][chatwoot] invalid payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info("[webhook][chatwoot] received", zap.String("event", p.Event))

	ctx := c.Request.Context()
	switch p.Event {
	case "conversation_updated":
		var echo *uuid.UUID
		if p.SyncToken != nil {
			if t, err := uuid.Parse(*p.SyncToken); err == nil {
				echo = &t
			}
		}
		moved, err := h.Deals.ApplyConversationLabels(ctx, sess, p.Conversation.ID, p.Conversation.Labels, echo)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "moved": len(moved)})

	case "contact_created":
		client, err := h.Clients.LinkContact(ctx, sess, p.Contact.ID, p.Contact.Email, p.Contact.PhoneNumber)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "linked": client != nil})

	case "conversation_created":
		var clientID *uuid.UUID
		title := ""
		if p.Contact != nil {
			client, err := h.Clients.LinkContact(ctx, sess, p.Contact.ID, p.Contact.Email, p.Contact.PhoneNumber)
			if err != nil {
				respondError(c, err)
				return
			}
			name := p.Contact.Name
			if client != nil {
				clientID = &client.ID
				if name == "" {
					name = client.Name
				}
			}
			if name != "" {
				title = "Nova conversa - " + name
			}
		}
		deal, err := h.Deals.OpenFromConversation(ctx, sess, p.Conversation.ID, title, clientID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "created": deal != nil})

	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": p.Event})
	}
}
