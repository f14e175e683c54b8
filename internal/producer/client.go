package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
	"github.com/unclebandit/disparo-dispatch/internal/model"
)

// Client submits dispatch batches to the producer API over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type dispatchResponse struct {
	Success   bool     `json:"success"`
	JobsAdded int      `json:"jobsAdded"`
	JobIDs    []string `json:"jobIds"`
	Error     string   `json:"error"`
}

// Submit posts the batch. Any failure, including a rejected batch, comes back
// as a SubmissionError.
func (c *Client) Submit(ctx context.Context, reqs []model.DispatchRequest) (*model.DispatchResult, error) {
	body, err := json.Marshal(map[string]any{"messages": reqs})
	if err != nil {
		return nil, &appErrors.SubmissionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/messages/dispatch", bytes.NewReader(body))
	if err != nil {
		return nil, &appErrors.SubmissionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &appErrors.SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	var out dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &appErrors.SubmissionError{Err: fmt.Errorf("producer returned %d: invalid body: %w", resp.StatusCode, err)}
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &appErrors.SubmissionError{Err: fmt.Errorf("producer returned %d: %s", resp.StatusCode, msg)}
	}
	return &model.DispatchResult{JobsAdded: out.JobsAdded, JobIDs: out.JobIDs}, nil
}
