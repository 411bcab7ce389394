// Package transport sends signed DPS documents to the national NFS-e API.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rezonia/nfse-dps/internal/certificate"
	"github.com/rezonia/nfse-dps/internal/envelope"
	"github.com/rezonia/nfse-dps/internal/model"
)

// DefaultTimeout bounds a single request
const DefaultTimeout = 30 * time.Second

// DebugEnv enables request/response logging when set to a true value
const DebugEnv = "NFSE_DEBUG"

// Config is the transport section of the client configuration
type Config struct {
	BaseURL      string
	Ambiente     int
	Timeout      time.Duration
	Paths        map[string]string
	BearerToken  string
	APIKey       string
	TempDir      string
	Debug        bool
	DebugLogPath string
}

// Client performs one HTTP exchange per Send. It never retries.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	provider   certificate.Provider
	rootCAs    *x509.CertPool
	log        zerolog.Logger
	getenv     func(string) string
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the mTLS client built per request.
// The certificate provider is not consulted when set.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCertificate sets where the client certificate for mTLS comes from
func WithCertificate(p certificate.Provider) ClientOption {
	return func(c *Client) {
		c.provider = p
	}
}

// WithRootCAs sets the pool used to verify the server
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(c *Client) {
		c.rootCAs = pool
	}
}

// WithLogger sets the logger for warnings. Debug traces go to their own sink.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient validates cfg and returns a client
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = BaseURLFor(cfg.Ambiente)
	}
	base, err := NormalizeBaseURL(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		log:     zerolog.Nop(),
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the effective HTTPS base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

type sendOptions struct {
	method string
	params map[string]string
}

// SendOption adjusts a single Send call
type SendOption func(*sendOptions)

// WithPathParam fills a {name} placeholder in the endpoint path
func WithPathParam(name, value string) SendOption {
	return func(o *sendOptions) {
		o.params[name] = value
	}
}

// WithMethod overrides the HTTP method (POST by default)
func WithMethod(method string) SendOption {
	return func(o *sendOptions) {
		if method != "" {
			o.method = method
		}
	}
}

// Send encodes xml for op, transmits it and returns the raw response body.
// Non-2xx answers and network failures are returned as *model.TransportError.
func (c *Client) Send(ctx context.Context, op Operation, xml []byte, opts ...SendOption) ([]byte, error) {
	so := &sendOptions{method: http.MethodPost, params: make(map[string]string)}
	for _, opt := range opts {
		opt(so)
	}

	path, err := resolvePath(op, c.cfg.Paths, so.params)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(op, xml)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	trace, closeTrace := c.debugLogger()
	defer closeTrace()

	terr := func(status int, respBody []byte, cause error) *model.TransportError {
		return &model.TransportError{
			Operation:     string(op),
			CorrelationID: correlationID,
			StatusCode:    status,
			Body:          truncate(respBody),
			Cause:         cause,
		}
	}

	hc, cleanup, err := c.clientFor(ctx)
	defer cleanup()
	if err != nil {
		return nil, terr(0, nil, err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, so.method, url, bytes.NewReader(body))
	if err != nil {
		return nil, terr(0, nil, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, application/xml")
	req.Header.Set("X-Correlation-ID", correlationID)
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	trace.Debug().
		Str("correlation_id", correlationID).
		Str("operation", string(op)).
		Str("method", so.method).
		Str("url", url).
		Str("body", truncate(body)).
		Msg("request")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		trace.Debug().
			Str("correlation_id", correlationID).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("request failed")
		return nil, terr(0, nil, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, terr(resp.StatusCode, nil, fmt.Errorf("read response: %w", err))
	}

	trace.Debug().
		Str("correlation_id", correlationID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Str("body", truncate(respBody)).
		Msg("response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, terr(resp.StatusCode, respBody, fmt.Errorf("server returned status %d", resp.StatusCode))
	}
	return respBody, nil
}

func encodeBody(op Operation, xml []byte) ([]byte, string, error) {
	if op == OpEmit {
		body, err := envelope.EmitJSON(xml)
		if err != nil {
			return nil, "", err
		}
		return body, "application/json", nil
	}
	enc, err := envelope.Encode(xml)
	if err != nil {
		return nil, "", err
	}
	return []byte(enc), "application/xml", nil
}

// clientFor returns the HTTP client for one request. When mTLS material is
// used the returned cleanup removes the temporary key files; it is always
// safe to call.
func (c *Client) clientFor(ctx context.Context) (*http.Client, func(), error) {
	noop := func() {}
	if c.httpClient != nil {
		return c.httpClient, noop, nil
	}

	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    c.rootCAs,
	}

	cleanup := noop
	if c.provider != nil {
		m, err := c.provider.Certificate(ctx)
		switch {
		case errors.Is(err, certificate.ErrNoCertificate):
			c.log.Warn().Msg("no client certificate configured, sending without mTLS")
		case err != nil:
			return nil, noop, fmt.Errorf("load client certificate: %w", err)
		default:
			pair, clean, err := loadPairFromTemp(c.cfg.TempDir, m)
			cleanup = clean
			if err != nil {
				return nil, cleanup, err
			}
			tlsCfg.Certificates = []tls.Certificate{pair}
		}
	}

	// the key pair is per request, so the connection must not outlive it
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   tlsCfg,
		DisableKeepAlives: true,
	}
	removeFiles := cleanup
	cleanup = func() {
		tr.CloseIdleConnections()
		removeFiles()
	}
	return &http.Client{Timeout: c.cfg.Timeout, Transport: tr}, cleanup, nil
}
