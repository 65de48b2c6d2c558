// Package messenger sends text messages through the Messenger Send API.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
)

// Sender delivers a text message to a conversation.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// SendError is an error payload returned by the Graph API.
type SendError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send api error (status %d, code %d, %s): %s", e.Status, e.Code, e.Type, e.Message)
}

// DefaultTimeout bounds a single Send API call.
const DefaultTimeout = 30 * time.Second

// GraphClient is a Sender backed by the Graph API.
type GraphClient struct {
	baseURL     string
	apiVersion  string
	accessToken string
	httpClient  *http.Client
}

// GraphConfig configures a GraphClient
type GraphConfig struct {
	BaseURL     string // default https://graph.facebook.com
	APIVersion  string // default v17.0
	AccessToken string
	HTTPClient  *http.Client
}

// NewGraphClient creates a Send API client.
func NewGraphClient(cfg GraphConfig) *GraphClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com"
	}
	version := strings.Trim(cfg.APIVersion, "/")
	if version == "" {
		version = "v17.0"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &GraphClient{
		baseURL:     base,
		apiVersion:  version,
		accessToken: cfg.AccessToken,
		httpClient:  hc,
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type sendResponse struct {
	RecipientID string     `json:"recipient_id"`
	MessageID   string     `json:"message_id"`
	Error       *SendError `json:"error"`
}

// endpoint never carries the token, so transport errors that quote the URL
// are safe to log and report.
func (c *GraphClient) endpoint() string {
	return fmt.Sprintf("%s/%s/me/messages", c.baseURL, c.apiVersion)
}

// Send posts text to recipientID. Failures are logged here and returned.
func (c *GraphClient) Send(ctx context.Context, recipientID, text string) error {
	err := c.send(ctx, recipientID, text)
	if err != nil {
		metrics.MessagesSent.WithLabelValues(metrics.ResultError).Inc()
		L_error("messenger: send failed", "recipient", recipientID, "error", err)
		return err
	}
	metrics.MessagesSent.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}

func (c *GraphClient) send(ctx context.Context, recipientID, text string) error {
	var body sendRequest
	body.Recipient.ID = recipientID
	body.Message.Text = text

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read send response: %w", err)
	}

	var out sendResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to parse send response: %w", err)
		}
	}
	if out.Error != nil {
		out.Error.Status = resp.StatusCode
		return out.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	L_trace("messenger: sent", "recipient", recipientID, "messageID", out.MessageID, "len", len(text))
	return nil
}
