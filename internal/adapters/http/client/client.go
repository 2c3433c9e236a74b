// Package client talks to the goal service REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
	"github.com/okian/goalboard/pkg/metrics"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 8 << 20

	// RequestIDHeader carries a per-request id.
	RequestIDHeader = "X-Request-ID"
)

// Client is a goal service API client.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: defaultTimeout,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dashboard returns every goal plus aggregate statistics.
func (c *Client) Dashboard(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	err := c.do(ctx, "dashboard", http.MethodGet, "/dashboard", nil, &snap)
	return snap, err
}

// ListGoals returns every goal.
func (c *Client) ListGoals(ctx context.Context) ([]model.Goal, error) {
	var goals []model.Goal
	err := c.do(ctx, "list_goals", http.MethodGet, "/goals", nil, &goals)
	return goals, err
}

// GetGoal returns one goal.
func (c *Client) GetGoal(ctx context.Context, id int) (model.Goal, error) {
	var g model.Goal
	err := c.do(ctx, "get_goal", http.MethodGet, goalPath(id), nil, &g)
	return g, err
}

// CreateGoal validates in and creates the goal.
func (c *Client) CreateGoal(ctx context.Context, in model.GoalCreate) (model.Goal, error) {
	if err := in.Validate(); err != nil {
		return model.Goal{}, err
	}
	in.Title = strings.TrimSpace(in.Title)

	var g model.Goal
	if err := c.do(ctx, "create_goal", http.MethodPost, "/goals", in, &g); err != nil {
		return model.Goal{}, err
	}
	if g.ID == 0 {
		return model.Goal{}, fmt.Errorf("%w: created goal has no id", ErrResponse)
	}
	return g, nil
}

// DeleteGoal deletes the goal. The response body is ignored.
func (c *Client) DeleteGoal(ctx context.Context, id int) error {
	return c.do(ctx, "delete_goal", http.MethodDelete, goalPath(id), nil, nil)
}

// UpdateProgress posts a narrative update and returns the server's feedback.
func (c *Client) UpdateProgress(ctx context.Context, id int, text string) (model.ProgressResult, error) {
	in := model.ProgressUpdate{Text: text}
	if err := in.Validate(); err != nil {
		return model.ProgressResult{}, err
	}

	var res model.ProgressResult
	err := c.do(ctx, "update_progress", http.MethodPost, goalPath(id)+"/update", in, &res)
	return res, err
}

func goalPath(id int) string { return "/goals/" + strconv.Itoa(id) }

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		var se *StatusError
		switch {
		case errors.As(err, &se):
			outcome = strconv.Itoa(se.Code)
		case err != nil:
			outcome = "error"
		}
		metrics.RecordClientRequest(op, outcome, float64(time.Since(start).Milliseconds()))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, merr := json.Marshal(in)
		if merr != nil {
			return fmt.Errorf("marshal %s request: %w", op, merr)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequest, op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "request failed", logger.String("op", op), logger.String("request_id", reqID), logger.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrRequest, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %w", ErrRequest, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := newStatusError(resp.StatusCode, data)
		c.logger.Warn(ctx, "request rejected",
			logger.String("op", op),
			logger.String("request_id", reqID),
			logger.Int("status", se.Code),
			logger.String("detail", se.Detail),
		)
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrResponse, op, err)
	}
	c.logger.Debug(ctx, "request done", logger.String("op", op), logger.String("request_id", reqID), logger.Duration("took", time.Since(start)))
	return nil
}
