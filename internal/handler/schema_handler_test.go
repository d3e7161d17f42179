package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/dto"
	"github.com/noah-isme/research-staging-api/internal/schema"
	"github.com/noah-isme/research-staging-api/internal/service"
)

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestSchemaHandlerList(t *testing.T) {
	registry, err := schema.NewRegistry(schema.Builtins())
	require.NoError(t, err)
	h := NewSchemaHandler(registry)

	c, w := newGinContext(http.MethodGet, "/schemas", nil)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Data []dto.SchemaDescriptor `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 2)
	assert.Equal(t, "external_publication", env.Data[0].Name)
	assert.Equal(t, "researcher", env.Data[1].Name)
	assert.NotEmpty(t, env.Data[1].Columns)
}

func TestMetricsHandlerEndpoints(t *testing.T) {
	metrics := service.NewMetricsService()
	h := NewMetricsHandler(metrics, stubPinger{})

	c, w := newGinContext(http.MethodGet, "/health", nil)
	h.Health(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(metrics, stubPinger{err: errors.New("down")})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	metrics.RecordTransition("APPROVED")
	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `staging_transitions_total{status="APPROVED"} 1`)
}
