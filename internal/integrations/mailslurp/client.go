// Package mailslurp wraps the MailSlurp REST API as the demo's email gateway:
// inbox creation, send/reply, message retrieval and webhook registration.
// Every call is a network RPC that may fail transiently; callers decide what
// a failure means for their flow.
package mailslurp

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
	"sync"
	"time"

	"prospector-agent/internal/domain"
)

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("mailslurp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Inbox is a provider-managed mailbox with a unique address.
type Inbox struct {
	ID           string `json:"id"`
	EmailAddress string `json:"emailAddress"`
}

// sentEmail is the minimal response shape for a send or reply call.
type sentEmail struct {
	ID string `json:"id"`
}

// emailSummary is the provider's message list entry.
type emailSummary struct {
	ID        string    `json:"id"`
	InboxID   string    `json:"inboxId"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client is a focused MailSlurp client covering the operations the demo needs.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on first use and reused for
// the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("mailslurp: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("mailslurp: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.mailslurp.com",
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.paramPrefix+"/mailslurp-api-key")
	})
	return c.apiKey, c.keyErr
}

// CreateInbox creates a named inbox and returns its id and address.
func (c *Client) CreateInbox(ctx context.Context, name string) (Inbox, error) {
	if strings.TrimSpace(name) == "" {
		return Inbox{}, errors.New("mailslurp: inbox name must not be empty")
	}
	endpoint := c.baseURL + "/inboxes?name=" + url.QueryEscape(name)

	raw, err := c.do(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Inbox{}, fmt.Errorf("mailslurp: create inbox: %w", err)
	}
	var inbox Inbox
	if err := json.Unmarshal(raw, &inbox); err != nil {
		return Inbox{}, fmt.Errorf("mailslurp: decode inbox: %w", err)
	}
	if inbox.ID == "" || inbox.EmailAddress == "" {
		return Inbox{}, errors.New("mailslurp: inbox response missing id or address")
	}
	return inbox, nil
}

// SendEmail sends a new message from the inbox and returns the message id.
func (c *Client) SendEmail(ctx context.Context, inboxID, to, subject, body string) (string, error) {
	if inboxID == "" || to == "" {
		return "", errors.New("mailslurp: inbox id and recipient are required")
	}
	payload, err := json.Marshal(map[string]any{
		"to":      []string{to},
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return "", fmt.Errorf("mailslurp: marshal send request: %w", err)
	}
	endpoint := c.baseURL + "/inboxes/" + url.PathEscape(inboxID)

	raw, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("mailslurp: send email: %w", err)
	}
	var sent sentEmail
	if err := json.Unmarshal(raw, &sent); err != nil {
		return "", fmt.Errorf("mailslurp: decode send response: %w", err)
	}
	return sent.ID, nil
}

// ReplyToEmail replies to an existing message through the provider's native
// reply mechanism, preserving threading. Returns the reply message id.
func (c *Client) ReplyToEmail(ctx context.Context, emailID, body string) (string, error) {
	if emailID == "" {
		return "", errors.New("mailslurp: email id is required")
	}
	payload, err := json.Marshal(map[string]any{"body": body})
	if err != nil {
		return "", fmt.Errorf("mailslurp: marshal reply request: %w", err)
	}
	endpoint := c.baseURL + "/emails/" + url.PathEscape(emailID)

	raw, err := c.do(ctx, http.MethodPut, endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("mailslurp: reply to email: %w", err)
	}
	var sent sentEmail
	if err := json.Unmarshal(raw, &sent); err != nil {
		return "", fmt.Errorf("mailslurp: decode reply response: %w", err)
	}
	return sent.ID, nil
}

// ListEmails returns message summaries for an inbox, newest first.
func (c *Client) ListEmails(ctx context.Context, inboxID string, size int) ([]domain.EmailMessage, error) {
	if inboxID == "" {
		return nil, errors.New("mailslurp: inbox id is required")
	}
	if size <= 0 {
		size = 20
	}
	endpoint := c.baseURL + "/emails?inboxId=" + url.QueryEscape(inboxID) +
		"&size=" + strconv.Itoa(size) + "&sort=DESC"

	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("mailslurp: list emails: %w", err)
	}
	// The provider wraps lists in a paged envelope.
	var page struct {
		Content []emailSummary `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("mailslurp: decode email list: %w", err)
	}
	msgs := make([]domain.EmailMessage, 0, len(page.Content))
	for _, e := range page.Content {
		msgs = append(msgs, summaryToMessage(e))
	}
	return msgs, nil
}

// GetEmail fetches a full message, body included.
func (c *Client) GetEmail(ctx context.Context, emailID string) (domain.EmailMessage, error) {
	if emailID == "" {
		return domain.EmailMessage{}, errors.New("mailslurp: email id is required")
	}
	endpoint := c.baseURL + "/emails/" + url.PathEscape(emailID)

	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("mailslurp: get email: %w", err)
	}
	var e emailSummary
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.EmailMessage{}, fmt.Errorf("mailslurp: decode email: %w", err)
	}
	return summaryToMessage(e), nil
}

// RegisterWebhook points the inbox's NEW_EMAIL webhook at the given URL.
// Re-registering an existing URL is not an error: the provider answers 409
// for duplicates and that is treated as success.
func (c *Client) RegisterWebhook(ctx context.Context, inboxID, webhookURL string) error {
	if inboxID == "" || webhookURL == "" {
		return errors.New("mailslurp: inbox id and webhook url are required")
	}
	payload, err := json.Marshal(map[string]any{
		"url":       webhookURL,
		"eventName": "NEW_EMAIL",
	})
	if err != nil {
		return fmt.Errorf("mailslurp: marshal webhook request: %w", err)
	}
	endpoint := c.baseURL + "/inboxes/" + url.PathEscape(inboxID) + "/webhooks"

	_, err = c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("mailslurp: register webhook: %w", err)
	}
	return nil
}

func summaryToMessage(e emailSummary) domain.EmailMessage {
	return domain.EmailMessage{
		ID:        e.ID,
		InboxID:   e.InboxID,
		From:      e.From,
		To:        e.To,
		Subject:   e.Subject,
		Body:      e.Body,
		CreatedAt: e.CreatedAt,
	}
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("mailslurp: paramstore getter is nil")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("mailslurp: fetch api key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("mailslurp: unmarshal paramstore key value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("mailslurp: API key is empty")
	}
	return tp.Token, nil
}
