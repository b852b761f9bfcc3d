package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/prodqa/internal/config"
)

// apiClient talks to a running `prodqa serve` on the loopback interface.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   cfg.Server.APIToken,
		// Answers wait on retrieval and generation.
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}, nil
}

// serverError is a non-2xx reply, decoded from the server's error envelope
// when it has one.
type serverError struct {
	Status  int
	Type    string
	Message string
}

func (e *serverError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s: %s", e.Status, e.Type, e.Message)
}

// isNotFound reports whether err is a 404 from the server.
func isNotFound(err error) bool {
	var se *serverError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func sessionPath(id string) string {
	return "/api/sessions/" + url.PathEscape(id)
}

// call sends in as JSON (when non-nil) and decodes the reply into out (when
// non-nil).
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is `prodqa serve` running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readServerError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func readServerError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &serverError{Status: resp.StatusCode, Message: fmt.Sprintf("reading body: %v", err)}
	}
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Type != "" {
		return &serverError{Status: resp.StatusCode, Type: env.Error.Type, Message: env.Error.Message}
	}
	return &serverError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}
}
