// Package chatwoot talks to the Chatwoot account API and mirrors deal
// stages as conversation labels.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	URL       string
	APIKey    string
	AccountID string
	Timeout   time.Duration
}

func (c Config) Configured() bool {
	return c.URL != "" && c.APIKey != "" && c.AccountID != ""
}

// APIError is a non-2xx answer from Chatwoot.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot api error: %d - %s", e.Status, e.Body)
}

// HasStatus reports whether err is an APIError with the given status.
func HasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/") + "/api/v1/accounts/" + url.PathEscape(cfg.AccountID),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
	}
}

type Conversation struct {
	ID     int64    `json:"id"`
	Labels []string `json:"labels"`
}

type Contact struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

type NewContact struct {
	Name             string         `json:"name"`
	Email            string         `json:"email,omitempty"`
	PhoneNumber      string         `json:"phone_number,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

type Inbox struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Label struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_access_token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || method == http.MethodDelete {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

// listOf decodes either {"payload": [...]} or a bare array; Chatwoot uses
// both shapes across endpoints and versions.
func listOf[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var items []T
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped struct {
		Payload []T `json:"payload"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Payload, nil
}

func (c *Client) list(ctx context.Context, endpoint string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func conversationPath(id int64) string {
	return "/conversations/" + strconv.FormatInt(id, 10)
}

func contactPath(id int64) string {
	return "/contacts/" + strconv.FormatInt(id, 10)
}

func (c *Client) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, conversationPath(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AddConversationLabels adds labels to the conversation's existing set.
func (c *Client) AddConversationLabels(ctx context.Context, id int64, labels []string) error {
	return c.do(ctx, http.MethodPost, conversationPath(id)+"/labels", map[string][]string{"labels": labels}, nil)
}

func (c *Client) RemoveConversationLabel(ctx context.Context, id int64, label string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(id)+"/labels/"+url.PathEscape(label), nil, nil)
}

func (c *Client) CreateConversation(ctx context.Context, inboxID, contactID int64) (*Conversation, error) {
	body := map[string]any{"inbox_id": inboxID, "contact_id": contactID, "status": "open"}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) SearchContacts(ctx context.Context, q string) ([]Contact, error) {
	raw, err := c.list(ctx, "/contacts/search?q="+url.QueryEscape(q))
	if err != nil {
		return nil, err
	}
	return listOf[Contact](raw)
}

func (c *Client) CreateContact(ctx context.Context, nc NewContact) (*Contact, error) {
	var resp struct {
		Payload struct {
			Contact Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := c.do(ctx, http.MethodPost, "/contacts", nc, &resp); err != nil {
		return nil, err
	}
	return &resp.Payload.Contact, nil
}

func (c *Client) ContactConversations(ctx context.Context, contactID int64) ([]Conversation, error) {
	raw, err := c.list(ctx, contactPath(contactID)+"/conversations")
	if err != nil {
		return nil, err
	}
	return listOf[Conversation](raw)
}

func (c *Client) CreateContactNote(ctx context.Context, contactID int64, content string) error {
	body := map[string]any{"note": map[string]string{"content": content}}
	return c.do(ctx, http.MethodPost, contactPath(contactID)+"/notes", body, nil)
}

func (c *Client) ListInboxes(ctx context.Context) ([]Inbox, error) {
	raw, err := c.list(ctx, "/inboxes")
	if err != nil {
		return nil, err
	}
	return listOf[Inbox](raw)
}

func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	raw, err := c.list(ctx, "/labels")
	if err != nil {
		return nil, err
	}
	return listOf[Label](raw)
}

func (c *Client) CreateLabel(ctx context.Context, l Label) error {
	return c.do(ctx, http.MethodPost, "/labels", l, nil)
}

func (c *Client) UpdateLabel(ctx context.Context, id int64, color, description string) error {
	body := map[string]string{"color": color, "description": description}
	return c.do(ctx, http.MethodPatch, "/labels/"+strconv.FormatInt(id, 10), body, nil)
}
