// Package modelserver talks to the per-engine inference servers that host
// the OCR models, and optionally runs those servers as Docker containers.
package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors for the modelserver package.
var (
	// ErrUnhealthy is returned when the model server health check fails.
	ErrUnhealthy = errors.New("model server health check failed")

	// ErrLibraryMissing is returned when the server reports its engine
	// library is not installed.
	ErrLibraryMissing = errors.New("engine library not installed on model server")

	// ErrRejectedParams is returned when the server refused a constructor
	// parameter.
	ErrRejectedParams = errors.New("constructor parameter rejected")
)

// Client is an HTTP client for one model server.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a new model server client. timeout bounds every call,
// including inference; zero means 120s.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		url: strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.url }

// HealthInfo is the model server's self-description.
type HealthInfo struct {
	Library      string   `json:"library"`
	Installed    bool     `json:"installed"`
	Version      string   `json:"version,omitempty"`
	Accelerators []string `json:"accelerators,omitempty"`
}

// LoadRequest is the body of a load call.
type LoadRequest struct {
	Device string         `json:"device"`
	Params map[string]any `json:"params"`
}

type loadResponse struct {
	ModelID string `json:"model_id"`
}

type predictResponse struct {
	Output json.RawMessage `json:"output"`
}

// errorResponse is the error body returned by the model server.
type errorResponse struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error"`
}

// Health fetches the server's health and library information.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/v1/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &info, nil
}

// Load constructs a model instance and returns its id.
func (c *Client) Load(ctx context.Context, body LoadRequest) (string, error) {
	if body.Params == nil {
		body.Params = map[string]any{}
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/load", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("load request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrLibraryMissing, errorMessage(respBody, resp.StatusCode))
	case http.StatusUnprocessableEntity:
		var e errorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Type == "param_rejected" {
			return "", fmt.Errorf("%w: %s", ErrRejectedParams, e.Error)
		}
		return "", errors.New(errorMessage(respBody, resp.StatusCode))
	default:
		return "", errors.New(errorMessage(respBody, resp.StatusCode))
	}

	var lr loadResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w (body: %s)", err, string(respBody))
	}
	if lr.ModelID == "" {
		return "", fmt.Errorf("model server returned no model_id")
	}
	return lr.ModelID, nil
}

// Predict uploads the image at imagePath and returns the engine's native
// output.
func (c *Client) Predict(ctx context.Context, modelID, imagePath string) (json.RawMessage, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}

	u := c.url + "/v1/predict?model_id=" + url.QueryEscape(modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType(imagePath))
	req.Header.Set("X-Filename", filepath.Base(imagePath))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errorMessage(respBody, resp.StatusCode))
	}

	var pr predictResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(pr.Output) == 0 {
		return nil, fmt.Errorf("model server returned no output")
	}
	return pr.Output, nil
}

// Unload releases a model instance.
func (c *Client) Unload(ctx context.Context, modelID string) error {
	u := c.url + "/v1/unload?model_id=" + url.QueryEscape(modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return errors.New(errorMessage(body, resp.StatusCode))
	}
	return nil
}

// errorMessage prefers the server's own error text so engine failures reach
// callers verbatim.
func errorMessage(body []byte, status int) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Sprintf("model server error (status %d): %s", status, msg)
	}
	return fmt.Sprintf("model server error (status %d)", status)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
