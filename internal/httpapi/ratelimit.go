package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// Request categories with their per-minute budgets.
type category struct {
	name   string
	perMin int
}

var (
	catRead       = category{"read", 100}
	catWrite      = category{"write", 30}
	catGeneration = category{"generation", 10}
	catSimilarity = category{"similarity", 20}
	catHealth     = category{"health", 1000}
)

// limiterSet keeps one token bucket per (identity, category). Idle
// entries are swept so the map does not grow without bound.
type limiterSet struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterSet() *limiterSet {
	return &limiterSet{entries: make(map[string]*limiterEntry)}
}

func (ls *limiterSet) get(key string, perMin int) *rate.Limiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	e, ok := ls.entries[key]
	if !ok {
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
		}
		ls.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (ls *limiterSet) sweep(olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for key, e := range ls.entries {
		if e.lastSeen.Before(cutoff) {
			delete(ls.entries, key)
		}
	}
}

// rateLimit enforces the category budget per identity. A key's own
// rate_limit_per_minute, when lower, tightens the budget further.
func (s *Server) rateLimit(cat category, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perMin := cat.perMin
		if info := keyInfoFrom(r.Context()); info != nil && info.RateLimitPerMinute > 0 && info.RateLimitPerMinute < perMin {
			perMin = info.RateLimitPerMinute
		}
		limiter := s.limiters.get(identity(r)+":"+cat.name, perMin)
		if !limiter.Allow() {
			res := limiter.Reserve()
			retry := res.Delay()
			res.Cancel()
			if retry <= 0 {
				retry = time.Second
			}
			s.writeError(w, r, apperrors.Newf(apperrors.CodeRateLimit,
				"%s requests limited to %d per minute", cat.name, perMin).WithRetryAfter(retry))
			return
		}
		next(w, r)
	}
}
