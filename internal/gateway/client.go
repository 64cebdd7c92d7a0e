package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/technosupport/ts-analytics/internal/pipeline"
)

// Camera as served by the CRUD API.
type Camera struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	RTSPURL  string `json:"rtsp_url"`
	IsActive bool   `json:"is_active"`
}

// IdentityMatch is the result of a face-embedding lookup.
type IdentityMatch struct {
	Match      bool    `json:"match"`
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Client talks to the external API gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListCameras fetches all cameras known to the API.
func (c *Client) ListCameras(ctx context.Context) ([]Camera, error) {
	var cameras []Camera
	if err := c.getJSON(ctx, "/api/cameras", &cameras); err != nil {
		return nil, fmt.Errorf("listing cameras: %w", err)
	}
	return cameras, nil
}

// PipelinesByCamera fetches the active pipelines bound to a camera.
func (c *Client) PipelinesByCamera(ctx context.Context, cameraName string) ([]pipeline.Pipeline, error) {
	var pipelines []pipeline.Pipeline
	path := "/api/pipelines?camera_name=" + url.QueryEscape(cameraName)
	if err := c.getJSON(ctx, path, &pipelines); err != nil {
		return nil, fmt.Errorf("fetching pipelines for %q: %w", cameraName, err)
	}
	return pipelines, nil
}

// MatchIdentity posts a face embedding for recognition.
func (c *Client) MatchIdentity(ctx context.Context, embedding []float64) (*IdentityMatch, error) {
	body, err := json.Marshal(map[string]any{"embedding": embedding})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/identities/match", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity match: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity match: unexpected status %d", resp.StatusCode)
	}

	var match IdentityMatch
	if err := json.NewDecoder(resp.Body).Decode(&match); err != nil {
		return nil, fmt.Errorf("identity match: decoding response: %w", err)
	}
	return &match, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
