// Package remote provides the backend datastore collaborator: row-level
// upsert/delete/select over REST and a realtime change feed over websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/stakesync/internal/config"
)

// Client talks to the remote multi-user datastore. The core depends only on
// the four verbs plus the authenticated-identity accessor.
type Client struct {
	restURL        string
	apiKey         string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration

	mu     sync.RWMutex
	userID string
}

// NewClient creates a datastore client from config.
func NewClient(cfg config.RemoteConfig) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelayBase := cfg.RetryDelayBase
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		restURL: cfg.RestURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetIdentity records the authenticated user id after login; an empty id
// clears it (logout).
func (c *Client) SetIdentity(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Identity returns the authenticated user id, with ok=false before login.
func (c *Client) Identity() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.userID != ""
}

// Filter is a column -> required-value equality filter.
type Filter map[string]string

// Upsert inserts or replaces a row, resolving conflicts on conflictKey.
func (c *Client) Upsert(ctx context.Context, table, conflictKey string, row map[string]interface{}) error {
	u, err := c.tableURL(table, nil)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("on_conflict", conflictKey)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, u.String(), body, map[string]string{
		"Prefer": "resolution=merge-duplicates",
	})
	if err != nil {
		return fmt.Errorf("upsert %s failed: %w", table, err)
	}
	resp.Body.Close()
	return nil
}

// BulkInsert inserts several rows in one request.
func (c *Client) BulkInsert(ctx context.Context, table string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	u, err := c.tableURL(table, nil)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}
	resp, err := c.doRequest(ctx, http.MethodPost, u.String(), body, nil)
	if err != nil {
		return fmt.Errorf("bulk insert into %s failed: %w", table, err)
	}
	resp.Body.Close()
	return nil
}

// Delete removes every row matching the filter.
func (c *Client) Delete(ctx context.Context, table string, filter Filter) error {
	u, err := c.tableURL(table, filter)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, http.MethodDelete, u.String(), nil, nil)
	if err != nil {
		return fmt.Errorf("delete from %s failed: %w", table, err)
	}
	resp.Body.Close()
	return nil
}

// Select fetches rows matching the filter into dest (a pointer to a slice).
func (c *Client) Select(ctx context.Context, table string, filter Filter, dest interface{}) error {
	u, err := c.tableURL(table, filter)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, http.MethodGet, u.String(), nil, nil)
	if err != nil {
		return fmt.Errorf("select from %s failed: %w", table, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return nil
}

func (c *Client) tableURL(table string, filter Filter) (*url.URL, error) {
	u, err := url.Parse(c.restURL + "/" + table)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	// Sorted for stable URLs in logs and tests.
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		q.Set(col, "eq."+filter[col])
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// doRequest performs an HTTP request with linear-backoff retry on transport
// errors and server errors.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, time.Duration(i+1)*c.retryDelayBase) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if !sleepCtx(ctx, time.Duration(i+1)*c.retryDelayBase) {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("request rejected: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
