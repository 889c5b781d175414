package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoop(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	assert.Nil(t, tel.MeterProvider)
	require.NoError(t, shutdown(context.Background()))

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnabledExposesMetrics(t *testing.T) {
	ctx := context.Background()
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "pagedb-test", TraceSampleRatio: 5})
	require.NoError(t, err)
	defer shutdown(ctx)

	counter, err := tel.Meter.Int64Counter("pagedb.test.hits")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	_, span := tel.Tracer.Start(ctx, "test-span")
	assert.True(t, span.SpanContext().IsSampled(), "invalid ratio falls back to always sampling")
	span.End()

	srv := httptest.NewServer(tel.MetricsHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pagedb_test_hits")
	assert.Contains(t, string(body), "go_goroutines")
}
