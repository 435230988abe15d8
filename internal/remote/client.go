// Package remote fetches chain records from the lineage HTTP service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/lineage/internal/chain"
)

// DefaultBaseURL is where the lineage service listens by default.
const DefaultBaseURL = "http://localhost:3000"

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// ErrNotFound is returned when the service has no record for an id.
var ErrNotFound = errors.New("record not found")

// Config configures a Client.
type Config struct {
	BaseURL    string        // service root (default DefaultBaseURL)
	Timeout    time.Duration // whole-request timeout on top of ctx (0 = none)
	HTTPClient *http.Client  // optional; its transport is used as-is
	UserAgent  string
	Logger     zerolog.Logger
}

// Client implements loader.Fetcher over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
	ua   string
	log  zerolog.Logger
}

// New validates cfg and returns a client. Without an explicit HTTPClient the
// transport negotiates gzip.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lineage/1"
	}
	return &Client{base: base, http: hc, ua: cfg.UserAgent, log: cfg.Logger}, nil
}

// URL returns the record URL for id.
func (c *Client) URL(id string) string {
	u := *c.base
	u.Path = u.Path + "/dark-jedis/" + url.PathEscape(id)
	return u.String()
}

// FetchNode fetches and decodes one record.
func (c *Client) FetchNode(ctx context.Context, id string) (chain.Node, error) {
	rec, err := c.FetchRecord(ctx, id)
	if err != nil {
		return chain.Node{}, err
	}
	return rec.Node(), nil
}

// FetchRecord returns the raw wire record for id.
func (c *Client) FetchRecord(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("fetch: empty id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(id), nil)
	if err != nil {
		return Record{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("id", id).
		Int("status", resp.StatusCode).
		Dur("dur", time.Since(start)).
		Msg("fetched record")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return Record{}, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return Record{}, fmt.Errorf("fetch %s: unexpected status %d", id, resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", id, err)
	}
	if err := rec.validate(); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, nil
}
