package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/ratelimit"
	"github.com/dkrish7/osprey/internal/util"
)

type identity struct {
	userID uuid.UUID
	role   string
}

type identityKey struct{}

func callerFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

// withIdentity resolves the caller from the gateway-injected headers. The
// edge proxy authenticates; this service only consumes its claims.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid X-User-ID"})
			return
		}
		caller := identity{userID: userID, role: r.Header.Get("X-User-Role")}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, caller)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := logger.Log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
		log.Info().Dur("elapsed", time.Since(start)).Msg("request handled")
	})
}

// inflightLimit sheds load once too many requests are in the handler at
// once; queuing further would only grow tail latency.
func inflightLimit(max int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server busy"})
			}
		})
	}
}

// generalRateLimit enforces the caller's tier-wide request budget. Tool
// execution carries its own second budget, checked at job creation.
func (s *Server) generalRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r.Context())
		tier := ratelimit.TierFor(caller.role)

		decision, err := s.limiter.Allow(r.Context(), util.GetRateKey(caller.userID.String(), "general"), tier.General)
		if err != nil {
			writeError(w, r, err)
			return
		}
		setRateHeaders(w, decision)
		next.ServeHTTP(w, r)
	})
}

func setRateHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.UnixMilli(), 10))
}

// writeRateLimited overwrites all three rate headers so they describe the
// window that rejected, not whichever window was charged earlier in the
// request.
func writeRateLimited(w http.ResponseWriter, err *ratelimit.RateLimitError) {
	w.Header().Set("Retry-After", strconv.FormatInt(err.RetryAfterSeconds, 10))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(err.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(err.Reset.UnixMilli(), 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
}
