// Package delivery is the HTTP adapter to the WhatsApp transport.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unclebandit/disparo-dispatch/internal/model"
)

// Request is one outbound message.
type Request struct {
	Phone     string
	Message   string
	MediaURL  string
	MediaType string
	Token     string
}

// Sender delivers one message; nil means the transport accepted it.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

type transportResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

var mediaFields = map[string]string{
	"image":    "Image",
	"video":    "Video",
	"document": "Document",
	"audio":    "Audio",
}

// endpoint picks the transport path and body for a request.
func endpoint(req Request) (string, map[string]string) {
	phone := model.NormalizePhone(req.Phone)
	field, ok := mediaFields[req.MediaType]
	if !ok || req.MediaURL == "" {
		return "/chat/send/text", map[string]string{"Phone": phone, "Body": req.Message}
	}
	return "/chat/send/" + req.MediaType, map[string]string{
		"Phone":   phone,
		field:     req.MediaURL,
		"Caption": req.Message,
	}
}

func (c *Client) Send(ctx context.Context, req Request) error {
	path, payload := endpoint(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("token", req.Token)

	res, err := c.HTTP.Do(httpReq)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("read transport response: %w", err)}
	}
	var tr transportResponse
	decodeErr := json.Unmarshal(raw, &tr)

	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return &TransientError{Err: &StatusError{StatusCode: res.StatusCode, Message: tr.Message}}
	case res.StatusCode >= 400:
		msg := tr.Message
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return &ClientError{StatusCode: res.StatusCode, Message: msg}
	case decodeErr != nil:
		return &TransportError{Message: "invalid transport response: " + decodeErr.Error()}
	case !tr.Success:
		msg := tr.Message
		if msg == "" {
			msg = "transport reported failure"
		}
		return &TransportError{Message: msg}
	}
	return nil
}

var _ Sender = (*Client)(nil)
