// Package ocr wraps the external receipt-extraction service.
// The service is a black box: given an image it returns structured receipt
// fields with a confidence score. Extraction happens before the eligibility
// pipeline runs and never inside its commit transaction.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"loyalty-service/internal/model"
)

// Extractor is the interface the API layer consumes; the HTTP client below
// is the production implementation, tests substitute their own.
type Extractor interface {
	AnalyzeImage(ctx context.Context, imageURL string) (*model.Extraction, error)
}

// Client calls the extraction service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an extraction client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	ImageURL string `json:"image_url"`
}

// AnalyzeImage submits an image reference and returns the extracted fields.
func (c *Client) AnalyzeImage(ctx context.Context, imageURL string) (*model.Extraction, error) {
	body, err := json.Marshal(analyzeRequest{ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/receipts/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned status %d", resp.StatusCode)
	}

	var out model.Extraction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	return &out, nil
}
