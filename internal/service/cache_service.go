package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Cache states reported by Status.
const (
	CacheDisabled = "disabled"
	CacheOK       = "ok"
	CacheDegraded = "degraded"
)

const (
	cacheTripAfter = 3
	cacheCooldown  = 30 * time.Second
)

// CacheService fronts the course summary cache with hit/miss metrics. After
// cacheTripAfter consecutive backend failures it stops calling Redis for
// cacheCooldown, so a dead cache does not add a timeout to every seat count
// applicants ask for.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
	now        func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled, now: time.Now}
}

// Enabled indicates whether caching is configured.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

func (s *CacheService) usable() bool {
	if !s.Enabled() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.openUntil)
}

func (s *CacheService) observe(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.failures = 0
		return
	}
	s.failures++
	s.logger.Warn("cache "+op+" failed", zap.Int("consecutive", s.failures), zap.Error(err))
	if s.failures >= cacheTripAfter {
		s.openUntil = s.now().Add(cacheCooldown)
		s.failures = 0
		s.logger.Warn("cache bypassed", zap.Duration("for", cacheCooldown))
	}
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.usable() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	}
	if errors.Is(err, appErrors.ErrCacheMiss) {
		s.observe("get", nil)
		return false, nil
	}
	s.observe("get", err)
	return err == nil, err
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.usable() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	s.observe("set", err)
	return err
}

// Delete removes the given keys. Deletes are attempted even while the cache
// is bypassed so a summary changed during an outage is not served stale
// afterwards.
func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.Enabled() {
		return nil
	}
	err := s.repo.Delete(ctx, keys...)
	if err != nil {
		s.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return err
}

// Status probes the backend for readiness reporting.
func (s *CacheService) Status(ctx context.Context) string {
	if !s.Enabled() {
		return CacheDisabled
	}
	if !s.usable() {
		return CacheDegraded
	}
	if err := s.repo.Ping(ctx); err != nil {
		return CacheDegraded
	}
	return CacheOK
}
