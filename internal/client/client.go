// Package client is an HTTP client for the farmlink server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jwulff/farmlink-go/internal/domain"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 5 * time.Second

// Client talks to a farmlink server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the server at baseURL, e.g. http://localhost:5000.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Endpoint returns the full URL for path.
func (c *Client) Endpoint(path string) string {
	return c.BaseURL + path
}

// do sends a request with an optional JSON body and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// APIError is a non-200 response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// SendReading posts one reading to /api/esp32.
func (c *Client) SendReading(ctx context.Context, in domain.ReadingInput) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/esp32", in, &resp); err != nil {
		return err
	}
	if resp.Status != "dados salvos" {
		return fmt.Errorf("unexpected ingest status: %q", resp.Status)
	}
	return nil
}

// ListReadings fetches the full history, newest first.
func (c *Client) ListReadings(ctx context.Context) ([]domain.Reading, error) {
	var readings []domain.Reading
	if err := c.do(ctx, http.MethodGet, "/api/registros", nil, &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// SetLED sets the LED command and returns the value the server now holds.
func (c *Client) SetLED(ctx context.Context, led string) (string, error) {
	var resp struct {
		LED string `json:"led"`
	}
	if err := c.do(ctx, http.MethodPost, "/comando", map[string]string{"led": led}, &resp); err != nil {
		return "", err
	}
	return resp.LED, nil
}

// SetMessage queues a message for the device and returns the pending message.
func (c *Client) SetMessage(ctx context.Context, msg string) (string, error) {
	var resp struct {
		Message string `json:"mensagem"`
	}
	if err := c.do(ctx, http.MethodPost, "/mensagem", map[string]string{"msg": msg}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Status polls the control state. The server clears the message it returns.
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}
