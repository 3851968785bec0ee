// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package binding talks to the database REST API: transactional batch scripts, single
// record loads and SQL commands.
package binding

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/config"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/logger"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/query"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

const (
	defaultTimeout  = 30 * time.Second
	requestIDHeader = "X-Request-ID"
)

// BatchRequest is the body of POST /batch/{database}.
type BatchRequest = query.Batch

// BatchResult is the decoded batch response. Result holds whatever the script returned.
type BatchResult struct {
	Result []any `json:"result"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResult struct {
	Result []map[string]any `json:"result"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL              string
	database             string
	username             string
	password             string
	httpClient           *http.Client
	compressionThreshold int
	log                  *zap.SugaredLogger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. to intercept requests in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithCredentials(username, password string) Option {
	return func(cl *Client) {
		cl.username = username
		cl.password = password
	}
}

// WithCompression gzips request bodies of at least threshold bytes. Zero disables it.
func WithCompression(threshold int) Option {
	return func(cl *Client) { cl.compressionThreshold = threshold }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(cl *Client) { cl.log = log }
}

// New creates a client for one database behind baseURL, e.g. http://localhost:2480.
func New(baseURL, database string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}

	if database == "" {
		return nil, fmt.Errorf("%w: database name is empty", ErrInvalidURL)
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		database: database,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = logger.OrNop(c.log)

	return c, nil
}

// NewFromConfig builds a client from the binding section of the configuration.
func NewFromConfig(cfg config.BindingConfig, log *zap.SugaredLogger, opts ...Option) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{IdleConnTimeout: 90 * time.Second}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev servers
	}

	base := []Option{
		WithHTTPClient(&http.Client{Timeout: timeout, Transport: transport}),
		WithCredentials(cfg.Username, cfg.Password),
		WithCompression(cfg.CompressionThreshold),
		WithLogger(log),
	}

	return New(cfg.URL, cfg.Database, append(base, opts...)...)
}

func (c *Client) Database() string {
	return c.database
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type phaseKey struct{}

// WithPhase labels the requests made with ctx in the batch metrics.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey{}, phase)
}

func phaseOf(ctx context.Context, fallback string) string {
	if p, ok := ctx.Value(phaseKey{}).(string); ok && p != "" {
		return p
	}

	return fallback
}

// Batch submits a transactional script. An empty script is still sent; callers skip it.
func (c *Client) Batch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	var out BatchResult

	path := "/batch/" + url.PathEscape(c.database)
	if err := c.do(ctx, "batch", phaseOf(ctx, metrics.PhaseUpdate), http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// LoadDocument fetches one record. fetchPlan may be empty.
func (c *Client) LoadDocument(ctx context.Context, r rid.RID, fetchPlan string) (map[string]any, error) {
	path := "/document/" + url.PathEscape(c.database) + "/" + r.Path()
	if fetchPlan != "" {
		path += "/" + url.PathEscape(fetchPlan)
	}

	var out map[string]any
	if err := c.do(ctx, "load "+r.String(), phaseOf(ctx, metrics.PhaseLoad), http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// Query runs an idempotent SQL command and returns its result records.
func (c *Client) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	var out commandResult

	path := "/command/" + url.PathEscape(c.database) + "/sql"
	if err := c.do(ctx, "query", phaseOf(ctx, metrics.PhaseQuery), http.MethodPost, path, commandRequest{Command: sql}, &out); err != nil {
		return nil, err
	}

	return out.Result, nil
}

func (c *Client) encode(body any) (io.Reader, bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.compressionThreshold <= 0 || len(payload) < c.compressionThreshold {
		return bytes.NewReader(payload), false, nil
	}

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, false, fmt.Errorf("failed to compress request: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("failed to compress request: %w", err)
	}

	return &buf, true, nil
}

func (c *Client) do(ctx context.Context, op, phase, method, path string, body, out any) (responseErr error) {
	var (
		reader     io.Reader
		compressed bool
	)

	if body != nil {
		var err error
		if reader, compressed, err = c.encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	requestID := uuid.NewString()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set(requestIDHeader, requestID)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveBatch(phase, 0, time.Since(start))
		metrics.IncErrorCount(metrics.ComponentBinding)

		return connectionError(op, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil && responseErr == nil {
			c.log.Debugw("Failed to close response body", "request_id", requestID, "error", err)
		}
	}()

	metrics.ObserveBatch(phase, resp.StatusCode, time.Since(start))

	data, err := readBody(resp)
	if err != nil {
		return connectionError(op, err)
	}

	c.log.Debugw("Database request finished",
		"op", op, "method", method, "path", path, "status", resp.StatusCode,
		"request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncErrorCount(metrics.ComponentBinding)

		return statusError(op, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}

	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return io.ReadAll(resp.Body)
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress response: %w", err)
	}
	defer zr.Close()

	return io.ReadAll(zr)
}
