package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sdko-org/outfit-relay/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
	reason     guard.Reason
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// noteReason lets the access log see why a request was turned away.
func noteReason(w http.ResponseWriter, reason guard.Reason) {
	if lrw, ok := w.(*loggingResponseWriter); ok {
		lrw.reason = reason
	}
}

// LoggingMiddleware logs every request and, when db is not nil, stores an
// access log row in the background.
func LoggingMiddleware(logger *logrus.Logger, db *gorm.DB, trustXFF bool) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			clientIP := ClientIP(r, trustXFF)

			defer func() {
				duration := time.Since(start)
				fields := logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   duration,
					"client_ip":  clientIP,
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
				}
				if lrw.reason != guard.ReasonNone {
					fields["reason"] = lrw.reason
				}

				logEntry.WithFields(fields).Info("Request processed")

				if db == nil {
					return
				}
				entry := models.AccessLog{
					Timestamp: start,
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    lrw.statusCode,
					Duration:  duration,
					ClientIP:  clientIP,
					UserAgent: r.UserAgent(),
					BytesSent: lrw.bytesSent,
					Reason:    string(lrw.reason),
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()

					if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
						logEntry.WithError(err).Warn("Failed to save access log")
					}
				}()
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ReadLimiter is a coarse per-IP token bucket for unauthenticated read
// endpoints polled by the overlay. It is separate from the ingress guard.
type ReadLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
}

// NewReadLimiter allows requests per window for each client, with the full
// allowance available as burst.
func NewReadLimiter(requests int, window time.Duration) *ReadLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ReadLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		idleTTL: max(3*time.Minute, window),
	}
}

func (l *ReadLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	client, exists := l.clients[clientIP]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientIP] = client
	}
	client.lastSeen = time.Now()
	l.mu.Unlock()

	return client.limiter.Allow()
}

// Cleanup forgets clients idle for longer than the idle TTL, which is never
// shorter than the window so a drained bucket is not refilled early. It is run by
// the retention purger.
func (l *ReadLimiter) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, client := range l.clients {
		if now.Sub(client.lastSeen) > l.idleTTL {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

func (l *ReadLimiter) Middleware(trustXFF bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(ClientIP(r, trustXFF)) {
				w.Header().Set("Retry-After", strconv.Itoa(1))
				writeRejection(w, guard.ReasonRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware answers preflight requests and echoes allowed origins. Safe
// methods from other origins get a wildcard so the overlay can poll from any
// browser source.
func CORSMiddleware(g *guard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && g.OriginAllowed(origin, "")

			switch {
			case allowed:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			case r.Method == http.MethodGet || r.Method == http.MethodHead:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			if r.Method == http.MethodOptions {
				if allowed {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token")
					w.Header().Set("Access-Control-Max-Age", "600")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first non-empty X-Forwarded-For hop (or X-Real-IP)
// when forwarded headers are trusted, otherwise the peer address.
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				return hop
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return strings.TrimSpace(ip)
}
