package scorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/medfusion-server/internal/domain"
)

// ErrUnavailable marks a scorer that cannot serve requests right now, either
// because its circuit breaker is open or because transport to it failed.
var ErrUnavailable = errors.New("scorer unavailable")

// ResilientClient wraps the per-modality clients with circuit breakers and an
// optional response cache. One breaker per modality: a flapping image scorer
// must not block audio or EHR scoring.
type ResilientClient struct {
	clients  map[domain.Modality]Client
	breakers map[domain.Modality]*gobreaker.CircuitBreaker
	cache    *Cache
	log      *logrus.Logger
}

// NewResilientClient builds the resilient wrapper over the three scorer
// clients. cache may be nil to disable caching.
func NewResilientClient(config domain.ScorersConfig, cache *Cache, logger *logrus.Logger) *ResilientClient {
	clients := map[domain.Modality]Client{
		domain.IMAGE: NewImageClient(config.Image),
		domain.AUDIO: NewAudioClient(config.Audio),
		domain.EHR:   NewEHRClient(config.EHR),
	}

	breakers := make(map[domain.Modality]*gobreaker.CircuitBreaker, len(clients))
	for modality := range clients {
		breakers[modality] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        modality.String(),
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"scorer": name,
					"from":   from.String(),
					"to":     to.String(),
				}).Warn("Scorer circuit breaker state changed")
			},
		})
	}

	return &ResilientClient{
		clients:  clients,
		breakers: breakers,
		cache:    cache,
		log:      logger,
	}
}

// Score routes a payload to the modality's scorer through its breaker,
// consulting the cache first. Context timeouts pass through untouched so the
// caller can distinguish a slow scorer from an unreachable one.
func (r *ResilientClient) Score(ctx context.Context, modality domain.Modality, payload []byte) (*Result, error) {
	client, ok := r.clients[modality]
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for %s", ErrUnavailable, modality)
	}

	var key string
	if r.cache != nil {
		key = Key(modality, payload)
		if result, hit := r.cache.Get(ctx, key); hit {
			r.log.WithField("modality", modality.String()).Debug("Scorer cache hit")
			return result, nil
		}
	}

	value, err := r.breakers[modality].Execute(func() (interface{}, error) {
		return client.Score(ctx, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit breaker open", ErrUnavailable, modality)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, modality, err)
	}

	result := value.(*Result)
	if r.cache != nil {
		r.cache.Set(ctx, key, result)
	}
	return result, nil
}

// BreakerStates reports every breaker's state for health endpoints.
func (r *ResilientClient) BreakerStates() map[string]string {
	states := make(map[string]string, len(r.breakers))
	for modality, breaker := range r.breakers {
		states[modality.String()] = breaker.State().String()
	}
	return states
}

// HealthCheck probes each scorer service directly, bypassing the breakers.
func (r *ResilientClient) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(r.clients))
	for modality, client := range r.clients {
		health[modality.String()] = client.HealthCheck(ctx) == nil
	}
	if r.cache != nil {
		health["cache"] = r.cache.Ping(ctx) == nil
	}
	return health
}
