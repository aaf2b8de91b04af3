package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v21.0"

// metaClient is the shared Graph API plumbing behind the WhatsApp and
// Instagram senders.
type metaClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

func newMetaClient(accessToken, baseURL string) *metaClient {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &metaClient{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

func (c *metaClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal graph payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph api status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// WhatsAppSender sends via the WhatsApp Cloud API.
type WhatsAppSender struct {
	client        *metaClient
	phoneNumberID string
}

// NewWhatsAppSender builds a sender for one WhatsApp business number.
// baseURL overrides the Graph endpoint, for tests.
func NewWhatsAppSender(accessToken, phoneNumberID, baseURL string) *WhatsAppSender {
	return &WhatsAppSender{
		client:        newMetaClient(accessToken, baseURL),
		phoneNumberID: phoneNumberID,
	}
}

func (s *WhatsAppSender) Name() string { return ChannelWhatsApp }

// Send delivers a text message to a phone number.
func (s *WhatsAppSender) Send(ctx context.Context, recipient, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	if err := s.client.post(ctx, "/"+s.phoneNumberID+"/messages", payload); err != nil {
		return fmt.Errorf("send whatsapp to %s: %w", recipient, err)
	}
	return nil
}

// InstagramSender sends via the Instagram Messaging API.
type InstagramSender struct {
	client *metaClient
	pageID string
}

// NewInstagramSender builds a sender for one Instagram business page.
func NewInstagramSender(accessToken, pageID, baseURL string) *InstagramSender {
	return &InstagramSender{
		client: newMetaClient(accessToken, baseURL),
		pageID: pageID,
	}
}

func (s *InstagramSender) Name() string { return ChannelInstagram }

// Send delivers a text message to an Instagram-scoped user ID.
func (s *InstagramSender) Send(ctx context.Context, recipient, body string) error {
	payload := map[string]any{
		"recipient": map[string]string{"id": recipient},
		"message":   map[string]string{"text": body},
	}
	if err := s.client.post(ctx, "/"+s.pageID+"/messages", payload); err != nil {
		return fmt.Errorf("send instagram to %s: %w", recipient, err)
	}
	return nil
}
