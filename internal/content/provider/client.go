// Package provider performs single, retry-free HTTP fetches against
// third-party content endpoints and classifies failures.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "funbot/pkg/logx"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "funbot/1.0 (+content resolver)"
)

type Config struct {
	// Timeout bounds a whole request including the body read. Default 10s.
	Timeout time.Duration
	// MaxBodyBytes caps Fetch bodies; larger bodies fail with KindDecode.
	MaxBodyBytes int64
	// RatePerSec limits requests per upstream host. 0 disables limiting.
	RatePerSec float64
	Burst      int
	UserAgent  string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.RatePerSec < 0 {
		c.RatePerSec = 0
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSec*2))
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Payload is a successful raw response.
type Payload struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// MediaType returns the lowercased media type without parameters.
func (p Payload) MediaType() string {
	mt, _, err := mime.ParseMediaType(p.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(p.ContentType))
	}
	return mt
}

// Client is safe for concurrent use. It never retries; fallback across
// sources is the resolver's job.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	limiters sync.Map // host -> *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// WithHTTPClient swaps the underlying client (tests use httptest clients).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// Fetch issues a GET with params merged into the query string.
// Every failure is returned as *Failure.
func (c *Client) Fetch(ctx context.Context, rawURL string, params url.Values) (Payload, error) {
	resp, err := c.do(ctx, rawURL, params)
	if err != nil {
		return Payload{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return Payload{}, classify(rawURL, err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return Payload{}, &Failure{Kind: KindDecode, URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", c.cfg.MaxBodyBytes)}
	}
	return Payload{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Download streams the body of rawURL into w. It is used for the second
// stage of media fetches, where the body can be larger than MaxBodyBytes.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, string, error) {
	resp, err := c.do(ctx, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, "", classify(rawURL, err)
	}
	if n == 0 {
		return 0, "", &Failure{Kind: KindDecode, URL: rawURL, Err: errors.New("empty body")}
	}
	return n, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, rawURL string, params url.Values) (*http.Response, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, &Failure{Kind: KindNetwork, URL: rawURL, Err: fmt.Errorf("invalid url: %w", errOrInvalid(err))}
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	if lim := c.limiterFor(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, &Failure{Kind: KindTimeout, URL: rawURL, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Failure{Kind: KindNetwork, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		f := classify(rawURL, err)
		c.log.Debug("provider request failed", logx.String("url", rawURL), logx.Duration("took", time.Since(start)), logx.Err(f))
		return nil, f
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &Failure{Kind: KindHTTPStatus, Code: resp.StatusCode, URL: rawURL}
	}
	c.log.Debug("provider responded", logx.String("url", rawURL), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))
	return resp, nil
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	if c.cfg.RatePerSec <= 0 {
		return nil
	}
	host = strings.ToLower(host)
	if v, ok := c.limiters.Load(host); ok {
		return v.(*rate.Limiter)
	}
	v, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.RatePerSec), c.cfg.Burst))
	return v.(*rate.Limiter)
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("missing host")
}

// classify maps transport errors onto failure kinds.
func classify(rawURL string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Failure{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &Failure{Kind: KindNetwork, URL: rawURL, Err: err}
}
