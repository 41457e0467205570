// Package client talks to the recordlens HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/recordlens/internal/annotate"
	"github.com/dgallion1/recordlens/internal/poller"
	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/store"
	"github.com/dgallion1/recordlens/internal/summary"
)

// APIError is a non-retryable error answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Client communicates with the recordlens HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Submission is the answer to Submit and Retry.
type Submission struct {
	SessionID string        `json:"sessionId"`
	Status    record.Status `json:"status"`
}

// envelope is the common response shape.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Submit uploads a document. sessionID is an optional idempotency key.
func (c *Client) Submit(ctx context.Context, filename string, data []byte, sessionID string) (Submission, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Submission{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return Submission{}, fmt.Errorf("write form file: %w", err)
	}
	if sessionID != "" {
		if err := mw.WriteField("sessionId", sessionID); err != nil {
			return Submission{}, fmt.Errorf("write session id: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Submission{}, fmt.Errorf("close form: %w", err)
	}

	var out Submission
	if _, err := c.do(ctx, http.MethodPost, "/api/analysis", &body, mw.FormDataContentType(), &out); err != nil {
		return Submission{}, fmt.Errorf("submit: %w", err)
	}
	return out, nil
}

// Retry asks the server to resume a failed or stale session.
func (c *Client) Retry(ctx context.Context, sessionID string) (Submission, error) {
	var out Submission
	if _, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "retry"), nil, "", &out); err != nil {
		return Submission{}, fmt.Errorf("retry: %w", err)
	}
	return out, nil
}

// GetStatus returns the current status of a session.
func (c *Client) GetStatus(ctx context.Context, sessionID string) (record.Status, error) {
	var out struct {
		Status record.Status `json:"status"`
	}
	if _, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "status"), nil, "", &out); err != nil {
		return record.Status{}, fmt.Errorf("get status: %w", err)
	}
	return out.Status, nil
}

// GetResult returns the artifacts of a completed session. Before completion
// it returns the current status with record.ErrNotReady.
func (c *Client) GetResult(ctx context.Context, sessionID string) (record.AnalysisResult, error) {
	var out struct {
		Result record.AnalysisResult `json:"result"`
		Status record.Status         `json:"status"`
	}
	code, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "result"), nil, "", &out)
	if err != nil {
		return record.AnalysisResult{}, fmt.Errorf("get result: %w", err)
	}
	if code == http.StatusAccepted {
		return record.AnalysisResult{Status: out.Status}, record.ErrNotReady
	}
	return out.Result, nil
}

// Annotations returns the per-section render models. An empty filter
// selects every category.
func (c *Client) Annotations(ctx context.Context, sessionID, filter string) ([]annotate.SectionRender, error) {
	path := sessionPath(sessionID, "annotations")
	if filter != "" {
		path += "?categories=" + url.QueryEscape(filter)
	}
	var out struct {
		Sections []annotate.SectionRender `json:"sections"`
	}
	code, err := c.do(ctx, http.MethodGet, path, nil, "", &out)
	if err != nil {
		return nil, fmt.Errorf("get annotations: %w", err)
	}
	if code == http.StatusAccepted {
		return nil, record.ErrNotReady
	}
	return out.Sections, nil
}

// Summary returns the summary of a completed session.
func (c *Client) Summary(ctx context.Context, sessionID string) (summary.Summary, error) {
	var out struct {
		Summary summary.Summary `json:"summary"`
	}
	code, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "summary"), nil, "", &out)
	if err != nil {
		return summary.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	if code == http.StatusAccepted {
		return summary.Summary{}, record.ErrNotReady
	}
	return out.Summary, nil
}

// History returns the recorded status transitions of a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]store.Event, error) {
	var out struct {
		History []store.Event `json:"history"`
	}
	if _, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "history"), nil, "", &out); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return out.History, nil
}

// Sessions lists the caller's sessions, newest first.
func (c *Client) Sessions(ctx context.Context, limit int) ([]record.Session, error) {
	path := "/api/analysis"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Sessions []record.Session `json:"sessions"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out.Sessions, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func sessionPath(sessionID, action string) string {
	return "/api/analysis/" + url.PathEscape(sessionID) + "/" + action
}

// do sends one request and decodes a 2xx body into out. Transport failures
// and 5xx or 429 answers are returned as poller.TransientError; 404 wraps
// record.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &poller.TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return resp.StatusCode, &poller.TransientError{Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, fmt.Errorf("%s: %w", path, record.ErrNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, &poller.TransientError{Err: apiError(resp.StatusCode, raw)}
	default:
		return resp.StatusCode, apiError(resp.StatusCode, raw)
	}
}

func apiError(code int, raw []byte) *APIError {
	var env envelope
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		msg = env.Error
	}
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	return &APIError{StatusCode: code, Message: msg}
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	var t *poller.TransientError
	return errors.As(err, &t)
}
