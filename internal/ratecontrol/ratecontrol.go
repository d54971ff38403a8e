// Package ratecontrol enforces per-provider request budgets over a rolling
// 60 second window. Limits come from config/models.yaml with built-in
// defaults per provider.
package ratecontrol

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pagesage/pagesage/internal/apperrors"
)

const windowSize = time.Minute

type limitsFile struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

var builtInProviderRPM = map[string]int{
	"openai":    60,
	"anthropic": 50,
	"gemini":    60,
	"hash":      0, // unlimited, local
}

const defaultRPM = 45

// Registry tracks one rolling window per provider.
type Registry struct {
	mu        sync.Mutex
	windows   map[string]*window
	overrides map[string]int
	def       int
	logger    *zap.Logger
	now       func() time.Time
}

type window struct {
	times []time.Time
}

// NewRegistry creates a registry with built-in limits.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		windows:   make(map[string]*window),
		overrides: make(map[string]int),
		def:       defaultRPM,
		logger:    logger,
		now:       time.Now,
	}
}

// LoadFile merges limits from a models.yaml file into the registry.
// A missing file is not an error; built-in limits stay in effect.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var cfg limitsFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.RateLimits.DefaultRPM > 0 {
		r.def = cfg.RateLimits.DefaultRPM
	}
	for name, o := range cfg.RateLimits.ProviderOverrides {
		r.overrides[strings.ToLower(strings.TrimSpace(name))] = o.RPM
	}
	r.logger.Info("Loaded rate limit configuration",
		zap.String("path", filepath.Clean(path)),
		zap.Int("default_rpm", r.def),
		zap.Int("overrides", len(r.overrides)),
	)
	return nil
}

// LimitFor returns the RPM budget for a provider. Zero means unlimited.
func (r *Registry) LimitFor(provider string) int {
	provider = strings.ToLower(strings.TrimSpace(provider))
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limitLocked(provider)
}

func (r *Registry) limitLocked(provider string) int {
	if rpm, ok := r.overrides[provider]; ok {
		return rpm
	}
	if rpm, ok := builtInProviderRPM[provider]; ok {
		return rpm
	}
	return r.def
}

// Allow records one request for the provider, or returns a rate_limited
// error (with a Retry-After hint) if the rolling window is full. The
// provider is never called when the local budget is exhausted.
func (r *Registry) Allow(provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.limitLocked(provider)
	if limit <= 0 {
		return nil
	}

	w, ok := r.windows[provider]
	if !ok {
		w = &window{}
		r.windows[provider] = w
	}
	cutoff := now.Add(-windowSize)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= limit {
		retry := w.times[0].Add(windowSize).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return apperrors.Newf(apperrors.CodeRateLimit,
			"%s exceeded %d requests per minute", provider, limit).WithRetryAfter(retry)
	}
	w.times = append(w.times, now)
	return nil
}
