// Package crm is the HTTP client for the CRM backend. It covers the
// endpoints the sync core consumes: conversations, messages, typing
// presence, media and instance status. Auth is a bearer token.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/caiofmo/zapdesk/internal/model"
	"go.uber.org/zap"
)

// Filter narrows a conversation list request. Zero-value fields are
// omitted from the query.
type Filter struct {
	Status     model.Status
	Search     string
	AssigneeID string
}

// ConversationPatch is a partial conversation update request. Nil
// fields are left untouched by the server.
type ConversationPatch struct {
	Status     *model.Status `json:"status,omitempty"`
	AssigneeID *string       `json:"assignee_id,omitempty"`
	TagIDs     *[]string     `json:"tag_ids,omitempty"`
}

// InstanceStatus reports the messaging instance connection state.
type InstanceStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// Client talks to the CRM REST API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *zap.Logger
}

// New creates a CRM client. logger may be nil.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// PushURL returns the websocket endpoint with the auth token embedded,
// as the push gateway expects it.
func (c *Client) PushURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// ListConversations fetches the conversation list, optionally filtered.
func (c *Client) ListConversations(ctx context.Context, f Filter) ([]model.Conversation, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Search != "" {
		q.Set("q", f.Search)
	}
	if f.AssigneeID != "" {
		q.Set("assignee_id", f.AssigneeID)
	}
	var out []model.Conversation
	if err := c.getJSON(ctx, "/conversations", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches a single conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var out model.Conversation
	err := c.getJSON(ctx, "/conversations/"+url.PathEscape(id), nil, &out)
	return out, err
}

// UpdateConversation requests a status/assignee/tag change. The server
// response is the authoritative new state.
func (c *Client) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (model.Conversation, error) {
	var out model.Conversation
	err := c.doJSON(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), patch, &out)
	return out, err
}

// ListMessages fetches the message snapshot for a conversation, in
// creation order. Bodies are decoded into their structured payloads
// here, at the ingestion boundary.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	err := c.getJSON(ctx, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &out)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Decode()
	}
	return out, nil
}

// SendText posts a text message and returns the server copy.
func (c *Client) SendText(ctx context.Context, conversationID, text string) (model.Message, error) {
	body := map[string]string{"body": text}
	var out model.Message
	err := c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", body, &out)
	if err == nil {
		out.Decode()
	}
	return out, err
}

// MarkRead clears the unread counter server-side.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// ListTags fetches the tag catalog.
func (c *Client) ListTags(ctx context.Context) ([]model.Tag, error) {
	var out []model.Tag
	if err := c.getJSON(ctx, "/tags", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAgents fetches the agent directory.
func (c *Client) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var out []model.Agent
	if err := c.getJSON(ctx, "/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendTyping emits a typing-presence signal. Best effort.
func (c *Client) SendTyping(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/typing", nil, nil)
}

// FetchMedia downloads raw media bytes. Returns data and mimetype.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// InstanceStatus fetches the messaging instance connection state.
func (c *Client) InstanceStatus(ctx context.Context) (InstanceStatus, error) {
	var out InstanceStatus
	err := c.getJSON(ctx, "/instance/status", nil, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: string(snippet), Path: req.URL.Path}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s: status %d: %s", e.Path, e.Status, e.Body)
}
