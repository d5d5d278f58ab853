package featurestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldlens/reidcore/internal/model"
)

// RemoteEmbedder calls an external embedding service over HTTP. Grounded on
// the teacher's MageAgentClient: a plain JSON POST with bounded retry
// rather than the teacher's async submit-then-poll, since embedding calls
// here are expected to complete synchronously within a frame budget.
type RemoteEmbedder struct {
	baseURL    string
	httpClient *http.Client
	retryCount int
}

// NewRemoteEmbedder builds an embedder against an embedding service
// reachable at baseURL.
func NewRemoteEmbedder(baseURL string, timeout time.Duration) *RemoteEmbedder {
	return &RemoteEmbedder{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCount: 3,
	}
}

type embedRequest struct {
	Image  string              `json:"image"`
	Region model.FeatureRegion `json:"region"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Embedder.
func (c *RemoteEmbedder) Embed(ctx context.Context, regionJPEG []byte, region model.FeatureRegion) ([]float32, error) {
	endpoint := fmt.Sprintf("%s/embeddings/region", c.baseURL)
	req := embedRequest{
		Image:  base64.StdEncoding.EncodeToString(regionJPEG),
		Region: region,
	}

	var resp embedResponse
	if err := c.makeRequest(ctx, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("embed region %s: %w", region, err)
	}
	return resp.Embedding, nil
}

func (c *RemoteEmbedder) makeRequest(ctx context.Context, url string, payload, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.doRequest(ctx, url, payload, result)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("request failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *RemoteEmbedder) doRequest(ctx context.Context, url string, payload, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
