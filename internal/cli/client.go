package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/me/rtk/internal/report"
	"github.com/me/rtk/pkg/model"
)

// Client talks to the run endpoints of an rtk server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates an rtk API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// envelope is the server's response wrapper.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// ServerError is an error envelope sent back by the server.
type ServerError struct {
	Status    int
	RequestID string
	Err       *model.APIError
}

func (e *ServerError) Error() string {
	if e.RequestID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (request %s)", e.Err, e.RequestID)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items      []T
	Pagination model.Pagination
}

// Footer tells how much of the collection the page shows and where the next
// page starts. It is empty when nothing is left.
func (p Page[T]) Footer() string {
	pg := p.Pagination
	if !pg.HasMore {
		return ""
	}
	return fmt.Sprintf("(%d of %s shown, next --offset %d)",
		len(p.Items), humanize.Comma(int64(pg.Total)), pg.Offset+len(p.Items))
}

// call performs one request, checks the envelope and decodes its data into
// out when out is not nil.
func (c *Client) call(ctx context.Context, method, path string, body, out any) (*model.Pagination, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.Logger.Debug("HTTP", "method", method, "path", path, "status", resp.StatusCode,
		"bytes", humanize.IBytes(uint64(len(respBody))), "request_id", resp.Header.Get("X-Request-ID"))

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("%s %s: unexpected %s response from %s", method, path, resp.Status, c.BaseURL)
	}
	if env.Status == "error" || resp.StatusCode >= http.StatusBadRequest {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &model.APIError{Code: model.ErrInternal, Message: resp.Status}
		}
		return nil, &ServerError{Status: resp.StatusCode, RequestID: env.RequestID, Err: apiErr}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return env.Pagination, nil
}

func list[T any](ctx context.Context, c *Client, path string, q url.Values) (Page[T], error) {
	var page Page[T]
	pg, err := c.call(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &page.Items)
	if err != nil {
		return page, err
	}
	if pg != nil {
		page.Pagination = *pg
	}
	return page, nil
}

// CreateRun executes a scenario on the server.
func (c *Client) CreateRun(ctx context.Context, req model.CreateRunRequest) (*model.Run, error) {
	var run model.Run
	if _, err := c.call(ctx, http.MethodPost, "/api/v1/runs/", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns one page of runs, newest first.
func (c *Client) ListRuns(ctx context.Context, q url.Values) (Page[model.Run], error) {
	return list[model.Run](ctx, c, "/api/v1/runs/", q)
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunReport fetches the execution report of a run.
func (c *Client) RunReport(ctx context.Context, id string) (*report.Report, error) {
	var rep report.Report
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id)+"/report", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// ListEvents returns one page of a run's trace.
func (c *Client) ListEvents(ctx context.Context, id string, q url.Values) (Page[model.Event], error) {
	return list[model.Event](ctx, c, "/api/v1/runs/"+url.PathEscape(id)+"/events", q)
}

// DeleteRun removes a run and its trace.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, "/api/v1/runs/"+url.PathEscape(id), nil, nil)
	return err
}
