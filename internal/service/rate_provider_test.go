package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rateResponse struct {
	status int
	body   string
}

type rateServer struct {
	*httptest.Server
	calls atomic.Int32

	mu      sync.Mutex
	queries []string
}

func (rs *rateServer) query(i int) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.queries[i]
}

// newRateServer answers each request with the next response; the last one repeats.
func newRateServer(t *testing.T, responses ...rateResponse) *rateServer {
	t.Helper()
	rs := &rateServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(rs.calls.Add(1)) - 1
		rs.mu.Lock()
		rs.queries = append(rs.queries, r.URL.RawQuery)
		rs.mu.Unlock()
		if n >= len(responses) {
			n = len(responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(responses[n].status)
		_, _ = w.Write([]byte(responses[n].body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newTestProvider(client HTTPClient, endpoint string, retries int) *HTTPRateProvider {
	return NewHTTPRateProvider(client, RateProviderConfig{
		Endpoint: endpoint,
		Timeout:  time.Second,
		Retries:  retries,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	}, zerolog.Nop())
}

func payloadFor(date string) string {
	return fmt.Sprintf(`{"current":{"date":%q,"usd":36.5,"eur":"39.71"}}`, date)
}

type failingClient struct {
	calls int
	err   error
}

func (c *failingClient) Do(_ *http.Request) (*http.Response, error) {
	c.calls++
	return nil, c.err
}

// ==================== Fetch Tests ====================

func TestHTTPRateProvider_Fetch_Success(t *testing.T) {
	srv := newRateServer(t, rateResponse{200, payloadFor("2026-10-18")})
	p := newTestProvider(srv.Client(), srv.URL+"/api/v2/tipo-cambio", 1)

	state, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, domain.ProvenanceService, state.Provenance)
	assert.Equal(t, "2026-10-18", state.Date.Format(time.DateOnly))
	assert.True(t, state.Rates["usd"].Equal(dec("36.5")))
	assert.True(t, state.Rates["eur"].Equal(dec("39.71")))
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Contains(t, srv.query(0), "_=")
}

func TestHTTPRateProvider_Fetch_DateWindow(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		wantErr bool
	}{
		{"today", "2026-10-18", false},
		{"tomorrow", "2026-10-19", false},
		{"rfc3339 today", "2026-10-18T09:00:00Z", false},
		{"yesterday", "2026-10-17", true},
		{"next week", "2026-10-25", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRateServer(t, rateResponse{200, payloadFor(tt.date)})
			p := newTestProvider(srv.Client(), srv.URL, 1)

			state, err := p.Fetch(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperror.KindRateUnavailable, apperror.KindOf(err))
				assert.Equal(t, int32(1), srv.calls.Load(), "stale dates are not retried")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, state)
		})
	}
}

func TestHTTPRateProvider_Fetch_BadPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>maintenance</html>`},
		{"no current", `{"rates":{}}`},
		{"no date", `{"current":{"usd":36.5}}`},
		{"bad date", `{"current":{"date":"18/10/2026","usd":36.5}}`},
		{"no positive rates", `{"current":{"date":"2026-10-18","usd":0,"eur":-1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRateServer(t, rateResponse{200, tt.body})
			p := newTestProvider(srv.Client(), srv.URL, 1)

			_, err := p.Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, apperror.Is(err, "RATE_001"))
			assert.Equal(t, int32(1), srv.calls.Load())
		})
	}
}

func TestHTTPRateProvider_Fetch_RetriesOnceWithoutCacheBuster(t *testing.T) {
	srv := newRateServer(t,
		rateResponse{503, `{"error":"busy"}`},
		rateResponse{200, payloadFor("2026-10-18")},
	)
	p := newTestProvider(srv.Client(), srv.URL, 1)

	state, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, state)
	require.Equal(t, int32(2), srv.calls.Load())
	assert.Contains(t, srv.query(0), "_=")
	assert.NotContains(t, srv.query(1), "_=")
}

func TestHTTPRateProvider_Fetch_RetriesExhausted(t *testing.T) {
	srv := newRateServer(t, rateResponse{500, `{}`})

	t.Run("one retry", func(t *testing.T) {
		p := newTestProvider(srv.Client(), srv.URL, 1)
		_, err := p.Fetch(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperror.KindRateUnavailable, apperror.KindOf(err))
		assert.Equal(t, int32(2), srv.calls.Load())
	})

	t.Run("retries disabled", func(t *testing.T) {
		srv.calls.Store(0)
		p := newTestProvider(srv.Client(), srv.URL, 0)
		_, err := p.Fetch(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(1), srv.calls.Load())
	})
}

func TestHTTPRateProvider_Fetch_NetworkFailure(t *testing.T) {
	client := &failingClient{err: errors.New("connection refused")}
	p := newTestProvider(client, "http://rates.invalid/api", 1)

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.KindNetworkFailure, apperror.KindOf(err))
	assert.True(t, apperror.Is(err, "RATE_002"))
	assert.Equal(t, 2, client.calls)
}

func TestHTTPRateProvider_Fetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewHTTPRateProvider(srv.Client(), RateProviderConfig{
		Endpoint: srv.URL,
		Timeout:  50 * time.Millisecond,
		Retries:  1,
		Now:      func() time.Time { return testNow },
	}, zerolog.Nop())

	start := time.Now()
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.KindNetworkFailure, apperror.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}
