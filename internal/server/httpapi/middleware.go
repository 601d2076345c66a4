package httpapi

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type ctxKey string

const (
	requestIDKey ctxKey = "requestID"
	identityKey  ctxKey = "identity"

	headerRequestID = "X-Request-ID"
)

// RequestIDFromContext returns the id assigned by the request-id middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID keeps a sane incoming X-Request-ID or assigns a ULID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 128 {
			id = ulid.MustNew(ulid.Now(), rand.Reader).String()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the status code and byte count. Unwrap lets
// http.ResponseController reach the underlying Flusher.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// logRequests logs one line per request and feeds the HTTP metrics. It also
// runs for aborted responses, which pass through as a panic.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			p := recover()

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			status := rec.status
			aborted := p == http.ErrAbortHandler

			attrs := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"bytes", rec.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id, ok := IdentityFromContext(r.Context()); ok {
				attrs = append(attrs, "user_id", id.UserID)
			}

			switch {
			case r.Context().Err() != nil:
				s.logger.Info(r.Context(), "request cancelled by client", attrs...)
			case aborted:
				s.logger.Warn(r.Context(), "request aborted", attrs...)
			case status >= 500:
				s.logger.Error(r.Context(), "request completed with error", attrs...)
			case status >= 400:
				s.logger.Warn(r.Context(), "request completed with client error", attrs...)
			default:
				s.logger.Info(r.Context(), "request completed", attrs...)
			}

			if s.metrics != nil {
				code := strconv.Itoa(status)
				if aborted {
					code = "aborted"
				}
				s.metrics.HTTPRequests.WithLabelValues(route, code).Inc()
				s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			}

			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

// recoverer turns handler panics into a 500. http.ErrAbortHandler is passed
// on so net/http drops the connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			s.logger.Error(r.Context(), "panic recovered",
				"request_id", RequestIDFromContext(r.Context()),
				"error", fmt.Sprint(p),
				"path", r.URL.Path,
			)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgInternal})
		}()

		next.ServeHTTP(w, r)
	})
}

// cors admits the editor origin. An empty origin disables CORS headers; "*"
// admits any origin.
func cors(origin string) Middleware {
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			allowed := reqOrigin != "" && (origin == "*" || strings.EqualFold(reqOrigin, origin))

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", reqOrigin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers", headerRequestID)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					h := w.Header()
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
					h.Set("Access-Control-Max-Age", "600")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	capacity int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	maxVisitors = 10_000
	visitorTTL  = 10 * time.Minute
)

// newRateLimiter allows perMinute requests per minute per IP, with bursts of
// the same size. A non-positive rate disables limiting.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		visitors: make(map[string]*visitor),
		capacity: maxVisitors,
		now:      time.Now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= l.capacity {
			l.prune(now)
		}
		if len(l.visitors) >= l.capacity {
			l.evictOldest()
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *rateLimiter) prune(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, k)
		}
	}
}

// evictOldest drops the least recently seen visitor.
func (l *rateLimiter) evictOldest() {
	var oldest string
	var seen time.Time
	for k, v := range l.visitors {
		if oldest == "" || v.lastSeen.Before(seen) {
			oldest, seen = k, v.lastSeen
		}
	}
	delete(l.visitors, oldest)
}

func (l *rateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
