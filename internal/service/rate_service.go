package service

import (
	"context"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"

	"github.com/rs/zerolog"
)

// RateServiceImpl implements ports.RateSource: the shared cache first, then
// the external provider.
type RateServiceImpl struct {
	provider ports.RateProvider
	cache    ports.RateCache
	location *time.Location
	now      func() time.Time
	metrics  RateMetrics
	log      zerolog.Logger
}

// RateMetrics receives rate lookup outcomes. A nil value disables recording.
type RateMetrics interface {
	RateLookup(outcome string)
}

// NewRateService creates a new RateServiceImpl. cache may be nil.
func NewRateService(provider ports.RateProvider, cache ports.RateCache, loc *time.Location, metrics RateMetrics, log zerolog.Logger) *RateServiceImpl {
	if loc == nil {
		loc = time.UTC
	}
	return &RateServiceImpl{
		provider: provider,
		cache:    cache,
		location: loc,
		now:      func() time.Time { return time.Now().In(loc) },
		metrics:  metrics,
		log:      log,
	}
}

// Current returns the cached bundle while it is still inside the freshness
// window, otherwise fetches a new one.
func (s *RateServiceImpl) Current(ctx context.Context) (*domain.RateState, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate cache read failed, falling through to provider")
		}
		if usable, _ := cached.Freshness(s.now()); usable {
			s.record("cache_hit")
			return cached, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh fetches from the provider and repopulates the cache.
func (s *RateServiceImpl) Refresh(ctx context.Context) (*domain.RateState, error) {
	state, err := s.provider.Fetch(ctx)
	if err != nil {
		s.record("error")
		return nil, err
	}
	s.record("fetched")

	if s.cache != nil {
		if ttl := s.ttlFor(state); ttl > 0 {
			if err := s.cache.Set(ctx, state, ttl); err != nil {
				s.log.Warn().Err(err).Msg("failed to cache rates in redis")
			}
		}
	}

	s.log.Info().
		Str("date", state.Date.Format(time.DateOnly)).
		Int("currencies", len(state.Rates)).
		Msg("exchange rates fetched")

	return state, nil
}

// ttlFor keeps a bundle until the end of its own calendar date.
func (s *RateServiceImpl) ttlFor(state *domain.RateState) time.Duration {
	y, m, d := state.Date.Date()
	expires := time.Date(y, m, d+1, 0, 0, 0, 0, s.location)
	return expires.Sub(s.now())
}

func (s *RateServiceImpl) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RateLookup(outcome)
	}
}
