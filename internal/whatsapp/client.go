// Package whatsapp is a minimal WhatsApp Cloud API client: enough to deliver
// bot/agent replies and to exchange inbound media ids for download URLs.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const graphBase = "https://graph.facebook.com/v19.0"

type Client struct {
	AccessToken   string
	PhoneNumberID string

	// BaseURL overrides the Graph API endpoint in tests.
	BaseURL string
	http    *http.Client
}

func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		AccessToken:   accessToken,
		PhoneNumberID: phoneNumberID,
		BaseURL:       graphBase,
		http:          &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Message structures ---

type GenericMessage struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             *TextObj  `json:"text,omitempty"`
	Image            *MediaObj `json:"image,omitempty"`
	Video            *MediaObj `json:"video,omitempty"`
	Audio            *MediaObj `json:"audio,omitempty"`
	Document         *MediaObj `json:"document,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// --- Helpers ---

func (c *Client) sendRequest(method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}
	return respBody, nil
}

// --- Messaging ---

func (c *Client) SendRawMessage(msg GenericMessage) error {
	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.PhoneNumberID)
	_, err := c.sendRequest("POST", url, msg)
	return err
}

func (c *Client) SendMessage(to, body string) error {
	return c.SendRawMessage(GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	})
}

func (c *Client) SendImageMessage(to, imageURL, caption string) error {
	return c.SendRawMessage(GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "image",
		Image:            &MediaObj{Link: imageURL, Caption: caption},
	})
}

// --- Media ---

type MediaURLResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

// GetMediaURL exchanges a webhook media id for its short-lived download URL.
// The URL expires after a few minutes and must be fetched with the same
// bearer token.
func (c *Client) GetMediaURL(mediaID string) (*MediaURLResponse, error) {
	url := fmt.Sprintf("%s/%s", c.BaseURL, mediaID)
	respBody, err := c.sendRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	var parsed MediaURLResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse media response: %w", err)
	}
	return &parsed, nil
}
