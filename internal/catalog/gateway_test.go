package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/municipios", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"codigo":"3550308","nome":"São Paulo"}]`))
	})
	mux.HandleFunc("/3550308/010701/2026-01-15/aliquota", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"aliquotas":{"010701":[{"Incidencia":"local","Aliq":2.00}]}}`))
	})
	mux.HandleFunc("/3550308/convenio", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"aderenteAmbienteNacional":1}`))
	})
	mux.HandleFunc("/9999999/aliquota", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/5300108/aliquota", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGateway_AliquotParametrization(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	g := NewGateway(srv.URL, NewMemoryStore())
	ctx := context.Background()

	first, err := g.GetAliquotParametrization(ctx, "3550308", "010701", "2026-01-15", false)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, "aliquota:3550308:010701:2026-01-15", first.Key)

	rate, ok := ExtractRate(first.Payload)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(2)), "got %s", rate)

	second, err := g.GetAliquotParametrization(ctx, "3550308", "010701", "2026-01-15", false)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGateway_ForceRefresh(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	g := NewGateway(srv.URL, NewMemoryStore())
	ctx := context.Background()

	_, err := g.GetMunicipalAgreement(ctx, "3550308", false)
	require.NoError(t, err)

	got, err := g.GetMunicipalAgreement(ctx, "3550308", true)
	require.NoError(t, err)
	assert.False(t, got.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGateway_ListMunicipalities(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	g := NewGateway(srv.URL, nil)

	got, err := g.ListMunicipalities(context.Background(), false)
	require.NoError(t, err)

	items, ok := got.Payload["items"].([]any)
	require.True(t, ok, "array answers are wrapped under items")
	assert.Len(t, items, 1)

	// no store means every call goes to the server
	_, err = g.ListMunicipalities(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGateway_NotFound(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	g := NewGateway(srv.URL, NewMemoryStore())

	_, err := g.GetAliquotParametrization(context.Background(), "9999999", "", "", false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGateway_ServerError(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	g := NewGateway(srv.URL, NewMemoryStore())

	_, err := g.GetAliquotParametrization(context.Background(), "5300108", "", "", false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "502")
}

func TestGateway_RequiresLocation(t *testing.T) {
	g := NewGateway("http://127.0.0.1:1", nil)

	_, err := g.GetAliquotParametrization(context.Background(), "", "010701", "", false)
	assert.Error(t, err)
	_, err = g.GetMunicipalAgreement(context.Background(), "", false)
	assert.Error(t, err)
}

func TestExtractRate(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
		found   bool
	}{
		{"top level", map[string]any{"aliquota": 2.5}, "2.5", true},
		{"case insensitive", map[string]any{"Aliq": "3,00"}, "3", true},
		{"nested", map[string]any{"dados": map[string]any{"pAliq": "0.02"}}, "0.02", true},
		{"in array", map[string]any{"items": []any{map[string]any{"aliquota": 5.0}}}, "5", true},
		{"non numeric", map[string]any{"aliquota": "n/a"}, "0", false},
		{"missing", map[string]any{"nome": "x"}, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractRate(tt.payload)
			assert.Equal(t, tt.found, ok)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
