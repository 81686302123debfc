package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxRatePayload bounds how much of the rate service response is read.
const maxRatePayload = 1 << 20

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateProviderConfig configures HTTPRateProvider.
type RateProviderConfig struct {
	Endpoint string
	Timeout  time.Duration // per attempt
	Retries  int           // extra attempts after a non-2xx status or transport error
	Location *time.Location
	Now      func() time.Time
}

// HTTPRateProvider implements ports.RateProvider against the exchange-rate service.
type HTTPRateProvider struct {
	client HTTPClient
	cfg    RateProviderConfig
	log    zerolog.Logger
}

// NewHTTPRateProvider creates a new HTTPRateProvider.
func NewHTTPRateProvider(client HTTPClient, cfg RateProviderConfig, log zerolog.Logger) *HTTPRateProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		loc := cfg.Location
		cfg.Now = func() time.Time { return time.Now().In(loc) }
	}
	return &HTTPRateProvider{client: client, cfg: cfg, log: log}
}

// ratePayload is the response body: {"current": {"date": "...", "usd": 36.5, ...}}.
type ratePayload struct {
	Current map[string]json.RawMessage `json:"current"`
}

// errRetryable marks an attempt failure that the retry policy applies to.
type errRetryable struct {
	err       error
	transport bool
}

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

// Fetch returns today's rate bundle. The first attempt carries a cache-busting
// query parameter; retries go out without it.
func (p *HTTPRateProvider) Fetch(ctx context.Context) (*domain.RateState, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		state, err := p.fetchOnce(ctx, attempt == 0)
		if err == nil {
			return state, nil
		}

		var retryable *errRetryable
		if !errors.As(err, &retryable) {
			p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("rate fetch rejected")
			return nil, err
		}
		lastErr = err
		p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("rate fetch failed")

		if ctx.Err() != nil {
			break
		}
	}

	var retryable *errRetryable
	if errors.As(lastErr, &retryable) && retryable.transport {
		return nil, apperror.ErrRateNetworkFailure(lastErr)
	}
	return nil, apperror.ErrRateUnavailable("rate service did not answer successfully", lastErr)
}

func (p *HTTPRateProvider) fetchOnce(ctx context.Context, cacheBust bool) (*domain.RateState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	endpoint, err := p.requestURL(cacheBust)
	if err != nil {
		return nil, apperror.ErrRateUnavailable("invalid rate service endpoint", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperror.ErrRateUnavailable("invalid rate service request", err)
	}
	req.Header.Set("Accept", "application/json")
	if cacheBust {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &errRetryable{err: fmt.Errorf("requesting rates: %w", err), transport: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRatePayload))
		return nil, &errRetryable{err: fmt.Errorf("rate service returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRatePayload))
	if err != nil {
		return nil, &errRetryable{err: fmt.Errorf("reading rates: %w", err), transport: true}
	}

	return p.parse(body)
}

func (p *HTTPRateProvider) requestURL(cacheBust bool) (string, error) {
	u, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	if cacheBust {
		q := u.Query()
		q.Set("_", strconv.FormatInt(p.cfg.Now().UnixMilli(), 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (p *HTTPRateProvider) parse(body []byte) (*domain.RateState, error) {
	var payload ratePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperror.ErrRateUnavailable("rate service returned an unreadable payload", err)
	}
	if len(payload.Current) == 0 {
		return nil, apperror.ErrRateUnavailable("rate service payload has no current rates", nil)
	}

	rawDate, ok := payload.Current["date"]
	if !ok {
		return nil, apperror.ErrRateUnavailable("rate service payload has no date", nil)
	}
	var dateStr string
	if err := json.Unmarshal(rawDate, &dateStr); err != nil {
		return nil, apperror.ErrRateUnavailable("rate service date is not a string", err)
	}
	date, err := p.parseDate(dateStr)
	if err != nil {
		return nil, apperror.ErrRateUnavailable("rate service date is invalid", err)
	}

	now := p.cfg.Now().In(p.cfg.Location)
	if usable, _ := domain.DateFreshness(date, now); !usable {
		return nil, apperror.ErrRateUnavailable(
			fmt.Sprintf("rate is dated %s, expected %s or the following day",
				date.Format(time.DateOnly), now.Format(time.DateOnly)), nil)
	}

	rates := make(map[string]decimal.Decimal, len(payload.Current)-1)
	for key, raw := range payload.Current {
		if key == "date" {
			continue
		}
		var v decimal.Decimal
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if !v.IsPositive() {
			p.log.Warn().Str("currency", key).Str("value", v.String()).Msg("ignoring non-positive rate")
			continue
		}
		rates[strings.ToLower(key)] = v
	}
	if len(rates) == 0 {
		return nil, apperror.ErrRateUnavailable("rate service payload has no usable rates", nil)
	}

	return &domain.RateState{
		Rates:      rates,
		Date:       date,
		Provenance: domain.ProvenanceService,
		FetchedAt:  now,
	}, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339. Timestamps are read in the
// configured location before taking the calendar date.
func (p *HTTPRateProvider) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return domain.CalendarDate(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return domain.CalendarDate(t.In(p.cfg.Location)), nil
}
