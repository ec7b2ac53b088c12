package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/summarizer/internal/metrics"
	"github.com/samcharles93/summarizer/internal/service"
	"github.com/samcharles93/summarizer/internal/summarizer"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/toy"
)

func TestToyPipelineOverHTTP(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	tr := tensor.NewTracker(rec.SetLiveTensors)

	svc := service.New(func(context.Context) (*summarizer.Summarizer, error) {
		return summarizer.NewFromComponents(summarizer.Config{}, toy.Tokenizer(), toy.Encoder(tr), toy.Decoder(tr),
			summarizer.WithTracker(tr), summarizer.WithObserver(rec))
	}, nil)
	e := newTestEcho(svc, Config{Metrics: metrics.Handler(reg)})

	resp := doJSON(t, e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	resp = doJSON(t, e, http.MethodPost, "/api/summarize", `{"text":"the cat"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	require.NoError(t, svc.Start(context.Background()))
	resp = doJSON(t, e, http.MethodPost, "/api/summarize", `{"text":"the cat sat on the mat."}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"summary":"the cat sat the mat."}`, resp.Body.String())

	resp = doJSON(t, e, http.MethodPost, "/api/summarize", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `summarizer_requests_total{status="ok"} 1`)
	assert.Contains(t, resp.Body.String(), `summarizer_requests_total{status="invalid_input"} 1`)
	assert.Contains(t, resp.Body.String(), "summarizer_live_tensors 0")

	require.NoError(t, svc.Shutdown(context.Background()))
	resp = doJSON(t, e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Zero(t, tr.Live())
}
