package routeros

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/routerwatch/internal/httpkit"
)

// REST paths polled by routerwatch.
const (
	PathARP      = "/rest/ip/arp"
	PathLog      = "/rest/log"
	PathResource = "/rest/system/resource"
	PathIdentity = "/rest/system/identity"
)

// levelTrace matches config.LevelTrace; response bodies are only
// logged at that level.
const levelTrace = slog.Level(-8)

// DefaultTimeout bounds a single REST request when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Row is one decoded JSON object from a RouterOS REST listing. Field
// names are router-defined (e.g. "mac-address", ".id").
type Row map[string]any

// Config holds what the client needs from the transport: where to
// connect, how to authenticate, which certificates to trust and how
// long to wait.
type Config struct {
	BaseURL  string // scheme and host, e.g. "https://192.168.88.1"
	Username string
	Password string

	// CACert is a PEM file to verify the router certificate against.
	// Empty means the system trust store.
	CACert string

	// InsecureSkipVerify disables verification. Must be explicitly set.
	InsecureSkipVerify bool

	Timeout time.Duration
}

// Client is a RouterOS v7 REST API client. It performs authenticated
// GET requests and never retries; the poll loop owns retry timing.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST client. It fails only when the configured
// CA certificate cannot be loaded.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := []httpkit.ClientOption{httpkit.WithTimeout(timeout)}
	switch {
	case cfg.InsecureSkipVerify:
		logger.Warn("router certificate verification disabled by configuration")
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	case cfg.CACert != "":
		pool, err := httpkit.LoadRootCAs(cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpkit.WithRootCAs(pool))
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpkit.NewClient(opts...),
		logger:     logger,
	}, nil
}

// Fetch issues a GET for path and decodes the JSON array it returns.
// Every failure is an *Error.
func (c *Client) Fetch(ctx context.Context, path string) ([]Row, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		return nil, &Error{Kind: KindDecode, Path: path, Err: errors.New("decode response: expected a JSON array")}
	}
	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &Error{Kind: KindDecode, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return rows, nil
}

// fetchObject decodes a path that returns a single JSON object.
func (c *Client) fetchObject(ctx context.Context, path string) (Row, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var row Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, &Error{Kind: KindDecode, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return row, nil
}

// get performs the authenticated request and returns the raw body of a
// 2xx response.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Path: path, Err: fmt.Errorf("build request: %w", err)}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Path: path, Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := KindHTTP
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindAuth
		}
		return nil, &Error{
			Kind:   kind,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, 512)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Log(ctx, levelTrace, "routeros response",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"body", string(body),
	)
	return body, nil
}

// ARP returns the raw ARP table.
func (c *Client) ARP(ctx context.Context) ([]Row, error) {
	return c.Fetch(ctx, PathARP)
}

// Logs returns the router's in-memory system log.
func (c *Client) Logs(ctx context.Context) ([]Row, error) {
	return c.Fetch(ctx, PathLog)
}

// Ping checks that the REST API answers with valid credentials. Used by
// connwatch for health monitoring.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.fetchObject(ctx, PathResource)
	return err
}

// Identity returns the router's configured system identity name.
func (c *Client) Identity(ctx context.Context) (string, error) {
	row, err := c.fetchObject(ctx, PathIdentity)
	if err != nil {
		return "", err
	}
	name, _ := NormalizeString(row["name"])
	return name, nil
}
