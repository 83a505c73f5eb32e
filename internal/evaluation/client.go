// Package evaluation is the client for the external code evaluation
// collaborator. The judge may fail or time out; callers handle both.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"peerprep-collab/internal/domain"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type evaluateResponse struct {
	Result domain.SubmissionResult `json:"result"`
}

// Evaluate posts the submission to the judge and returns its verdict.
func (c *Client) Evaluate(ctx context.Context, rec domain.SubmissionRecord) (domain.SubmissionResult, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.ResultUnknown, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/evaluate", bytes.NewBuffer(data))
	if err != nil {
		return domain.ResultUnknown, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ResultUnknown, fmt.Errorf("evaluation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ResultUnknown, fmt.Errorf("evaluation failed: status %d", resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ResultUnknown, fmt.Errorf("failed to decode evaluation response: %w", err)
	}
	if out.Result == "" {
		out.Result = domain.ResultUnknown
	}
	return out.Result, nil
}
