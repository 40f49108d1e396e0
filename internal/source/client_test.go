package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

func clientTestConfig() *config.Config {
	return &config.Config{
		APITimeout:      5 * time.Second,
		APIRateLimitRPS: 1000,
		APIMaxRetries:   3,
		APIRetryBackoff: time.Millisecond,
	}
}

func newEnvelopeTestClient(serverURL string) *Client {
	return NewClient("tiktok", serverURL, clientTestConfig(), &secrets.APICredentials{}, metrics.NewMetricsStore(), zap.NewNop()).
		WithEnvelopeCheck(classifyTikTokEnvelope)
}

// Transient codes hidden behind HTTP 200 must go through the same bounded
// backoff as transient HTTP statuses.
func TestDoRetriesTransientEnvelopeCodes(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		if requests < 3 {
			_, _ = w.Write([]byte(`{"code":40100,"message":"rate limited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"message":"OK","data":{"list":[{"ad_id":"1"}]}}`))
	}))
	defer server.Close()

	var out tiktokEnvelope
	err := newEnvelopeTestClient(server.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/report"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, requests)
	assert.Equal(t, 0, out.Code)
	require.Len(t, out.Data.List, 1)
}

func TestDoSurfacesTerminalEnvelopeCodes(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":40105,"message":"invalid access token"}`))
	}))
	defer server.Close()

	err := newEnvelopeTestClient(server.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/report"}, nil)
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "40105", apiErr.Code)
	assert.False(t, apiErr.Transient)
	assert.Equal(t, 1, requests, "a terminal envelope code must not be retried")
}

func TestDoExhaustsRetriesOnPersistentEnvelopeCode(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":50000,"message":"internal error"}`))
	}))
	defer server.Close()

	err := newEnvelopeTestClient(server.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/report"}, nil)
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Transient)
	assert.Equal(t, 4, requests, "initial attempt plus the configured retries")
}
