// Package catalog reads municipal parametrization from the national
// parameters API and caches the answers.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default parameters API locations per environment
const (
	ProductionBaseURL = "https://adn.nfse.gov.br/parametrizacao"
	StagingBaseURL    = "https://adn.producaorestrita.nfse.gov.br/parametrizacao"

	DefaultTimeout = 15 * time.Second
)

// ErrNotFound is returned when the catalog has no data for a lookup
var ErrNotFound = errors.New("catalog: no parametrization found")

// Lookup is a decoded catalog answer plus cache metadata
type Lookup struct {
	Key       string
	Payload   map[string]any
	FetchedAt time.Time
	FromCache bool
}

// Gateway performs cached catalog lookups
type Gateway struct {
	baseURL string
	client  *http.Client
	store   Store
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithHTTPClient sets the client used for catalog requests
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithTTL sets how long fetched answers are reused
func WithTTL(ttl time.Duration) GatewayOption {
	return func(g *Gateway) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLogger sets the gateway logger
func WithLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = l
	}
}

// NewGateway creates a gateway. A nil store disables caching.
func NewGateway(baseURL string, store Store, opts ...GatewayOption) *Gateway {
	if baseURL == "" {
		baseURL = ProductionBaseURL
	}
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		store:   store,
		ttl:     DefaultTTL,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListMunicipalities returns the municipalities known to the national system
func (g *Gateway) ListMunicipalities(ctx context.Context, force bool) (*Lookup, error) {
	return g.fetch(ctx, "municipios", "/municipios", force)
}

// GetAliquotParametrization returns the rate parametrization of a service in
// a municipality. service and competence may be empty.
func (g *Gateway) GetAliquotParametrization(ctx context.Context, location, service, competence string, force bool) (*Lookup, error) {
	if location == "" {
		return nil, fmt.Errorf("catalog: location code is required")
	}

	segments := []string{location}
	if service != "" {
		segments = append(segments, service)
		if competence != "" {
			segments = append(segments, competence)
		}
	}

	key := "aliquota:" + strings.Join(segments, ":")
	path := "/" + joinEscaped(segments) + "/aliquota"
	return g.fetch(ctx, key, path, force)
}

// GetMunicipalAgreement returns the agreement status of a municipality
// with the national system
func (g *Gateway) GetMunicipalAgreement(ctx context.Context, location string, force bool) (*Lookup, error) {
	if location == "" {
		return nil, fmt.Errorf("catalog: location code is required")
	}
	return g.fetch(ctx, "convenio:"+location, "/"+url.PathEscape(location)+"/convenio", force)
}

func (g *Gateway) fetch(ctx context.Context, key, path string, force bool) (*Lookup, error) {
	if !force && g.store != nil {
		entry, err := g.store.Get(ctx, key)
		if err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		}
		if entry != nil && !entry.Expired(g.now()) {
			payload, err := decodePayload(entry.Payload)
			if err == nil {
				return &Lookup{Key: key, Payload: payload, FetchedAt: entry.FetchedAt, FromCache: true}, nil
			}
			g.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable catalog cache entry")
		}
	}

	body, err := g.get(ctx, path)
	if err != nil {
		return nil, err
	}

	payload, err := decodePayload(body)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: decode response: %w", key, err)
	}

	fetchedAt := g.now()
	if g.store != nil {
		entry := &Entry{Key: key, Payload: json.RawMessage(body), FetchedAt: fetchedAt, TTL: g.ttl}
		if err := g.store.Put(ctx, entry); err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
		}
	}

	g.log.Debug().Str("key", key).Msg("catalog fetched")
	return &Lookup{Key: key, Payload: payload, FetchedAt: fetchedAt}, nil
}

func (g *Gateway) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("catalog server returned status %d", resp.StatusCode)
	case len(bytes.TrimSpace(body)) == 0:
		return nil, ErrNotFound
	}
	return body, nil
}

// decodePayload decodes a JSON answer. Top-level arrays are placed under
// the "items" key so callers always receive a map.
func decodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case nil:
		return map[string]any{}, nil
	default:
		return map[string]any{"items": t}, nil
	}
}

func joinEscaped(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}
