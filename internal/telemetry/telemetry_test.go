package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestDisabledTelemetry_IsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tel.Enabled())

	// none of these may panic on a disabled instance
	tel.RecordDownload("completed", time.Second)
	tel.RecordDownloadTransfer(10, 1)
	tel.RecordRotation("cadence", "success")
	tel.RecordQueueDepth(3)
	tel.IncrementActiveDownloads()
	tel.DecrementActiveDownloads()
	tel.RecordSystemError("dispatcher", "panic")

	status := tel.InstrumentDownload(context.Background(), func(context.Context) string { return "completed" })
	assert.Equal(t, "completed", status)

	boom := errors.New("boom")
	assert.ErrorIs(t, tel.InstrumentRotation(context.Background(), "threshold", func(context.Context) error { return boom }), boom)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry_InstrumentPassesThrough(t *testing.T) {
	var tel *Telemetry

	called := false
	err := tel.InstrumentDBOperation(context.Background(), "load_archive", func(context.Context) error {
		called = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestEnabledTelemetry_ExposesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "auto_ytdlp_test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.InstrumentDownload(ctx, func(context.Context) string { return "completed" })
	tel.RecordDownloadTransfer(1024, 512)
	require.NoError(t, tel.InstrumentRotation(ctx, "cadence", func(context.Context) error { return nil }))
	require.NoError(t, tel.InstrumentDBOperation(ctx, "record_download", func(context.Context) error { return nil }))

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// exported names may carry unit suffixes
	assert.Contains(t, string(body), "downloads_")
	assert.Contains(t, string(body), "rotations_")
	assert.Contains(t, string(body), "db_operations_")
}

func TestEnabledTelemetry_SpansCarryIDs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "auto_ytdlp_test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	var sc trace.SpanContext

	tel.InstrumentDownload(ctx, func(ctx context.Context) string {
		sc = trace.SpanContextFromContext(ctx)

		return "completed"
	})

	assert.True(t, sc.IsValid())
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusOK))
	assert.Equal(t, "3xx", statusClass(http.StatusFound))
	assert.Equal(t, "4xx", statusClass(http.StatusNotFound))
	assert.Equal(t, "5xx", statusClass(http.StatusBadGateway))
	assert.Equal(t, "unknown", statusClass(0))
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	h.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
