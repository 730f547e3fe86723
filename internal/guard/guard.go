// Package guard decides whether an inbound request may trigger a side effect
// such as sending an outfit email or replacing the overlay state.
//
// A request is checked in a fixed order and the first failing check decides
// the rejection reason:
//
//  1. origin: the Origin or Referer header starts with an allowed prefix
//  2. rate: the client identity has room in the minute and hour windows
//  3. authentication: the caller token matches the shared secret
//  4. payload: a payload is present and its decoded size estimate fits
//
// Admission records a timestamp for the identity in the same atomic step as
// the rate check, so a request that is rejected for any reason never counts
// against the client.
package guard

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRequestsPerMinute = 2
	DefaultMaxRequestsPerHour   = 10
	DefaultMaxPayloadBytes      = 10 * 1024 * 1024

	// MaxPayloadLimit is the largest payload limit whose encoded length still
	// fits an int64.
	MaxPayloadLimit = math.MaxInt64 / 4
)

// Config is the immutable guard configuration.
type Config struct {
	AllowedOrigins       []string
	SharedSecret         string
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxPayloadBytes      int64
}

// Request carries the fields the guard inspects. Payload is the encoded
// (base64 or JSON) body as received; nil or empty means absent. Oversize is set
// by transports that stopped reading the payload at a hard cap.
type Request struct {
	Origin   string
	Referer  string
	Identity string
	Token    string
	Payload  []byte
	Oversize bool
}

// Decision is the admission outcome. Reason is ReasonNone when admitted.
type Decision struct {
	Admitted bool
	Reason   Reason
}

func Admit() Decision { return Decision{Admitted: true} }

func Reject(reason Reason) Decision { return Decision{Reason: reason} }

// Err returns nil when admitted, otherwise the sentinel error for the reason.
func (d Decision) Err() error {
	if d.Admitted {
		return nil
	}
	return d.Reason.Err()
}

type Guard struct {
	cfg     Config
	log     Log
	windows []Window
	now     func() time.Time
	logger  *logrus.Entry
}

type Option func(*Guard)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(g *Guard) { g.logger = logger.WithField("component", "ingress_guard") }
}

// New validates cfg and builds a guard around log. A nil log gets a fresh
// MemoryLog owned by this guard.
func New(cfg Config, log Log, opts ...Option) (*Guard, error) {
	if strings.TrimSpace(cfg.SharedSecret) == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.MaxRequestsPerMinute <= 0 || cfg.MaxRequestsPerHour <= 0 {
		return nil, fmt.Errorf("rate limits must be positive (minute=%d, hour=%d)", cfg.MaxRequestsPerMinute, cfg.MaxRequestsPerHour)
	}
	if cfg.MaxPayloadBytes <= 0 || cfg.MaxPayloadBytes > MaxPayloadLimit {
		return nil, fmt.Errorf("max payload bytes must be between 1 and %d, got %d", int64(MaxPayloadLimit), cfg.MaxPayloadBytes)
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowedOrigins = origins

	windows := []Window{
		{Span: time.Minute, Limit: cfg.MaxRequestsPerMinute},
		{Span: time.Hour, Limit: cfg.MaxRequestsPerHour},
	}
	if log == nil {
		log = NewMemoryLog(retentionOf(windows))
	}

	g := &Guard{
		cfg:     cfg,
		log:     log,
		windows: windows,
		now:     time.Now,
		logger:  logrus.StandardLogger().WithField("component", "ingress_guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Windows returns the minute and hour windows the guard enforces.
func (g *Guard) Windows() []Window {
	return append([]Window(nil), g.windows...)
}

// Evaluate runs every check in order and, on admission, records the request
// for the identity. The error is non-nil only when the log backend fails; the
// decision is then a rejection with ReasonDownstreamFailure.
func (g *Guard) Evaluate(ctx context.Context, req Request) (Decision, error) {
	log := g.logger.WithField("client_ip", req.Identity)

	if !g.OriginAllowed(req.Origin, req.Referer) {
		log.WithFields(logrus.Fields{
			"origin":  req.Origin,
			"referer": req.Referer,
		}).Warn("Rejected request from unauthorized origin")
		return Reject(ReasonUnauthorizedOrigin), nil
	}

	// Later checks are pure, so their outcome is known before the log is
	// touched and only a fully valid request is appended.
	authOK := g.TokenValid(req.Token)
	payloadReason := g.checkPayload(req)

	room, err := g.log.Admit(ctx, req.Identity, g.now(), g.windows, authOK && payloadReason == ReasonNone)
	if err != nil {
		log.WithError(err).Error("Rate limit log unavailable")
		return Reject(ReasonDownstreamFailure), err
	}
	if !room {
		log.Warn("Rejected rate limited request")
		return Reject(ReasonRateLimited), nil
	}
	if !authOK {
		log.Warn("Rejected request with invalid token")
		return Reject(ReasonInvalidAuthentication), nil
	}
	if payloadReason != ReasonNone {
		log.WithFields(logrus.Fields{
			"reason":        payloadReason,
			"payload_bytes": len(req.Payload),
		}).Warn("Rejected request payload")
		return Reject(payloadReason), nil
	}

	log.Debug("Admitted request")
	return Admit(), nil
}

// Authorize runs only the origin and authentication checks. It never touches
// the rate log.
func (g *Guard) Authorize(req Request) Decision {
	if !g.OriginAllowed(req.Origin, req.Referer) {
		return Reject(ReasonUnauthorizedOrigin)
	}
	if !g.TokenValid(req.Token) {
		return Reject(ReasonInvalidAuthentication)
	}
	return Admit()
}

// OriginAllowed reports whether origin or referer starts with an allowed
// prefix. Empty values never match.
func (g *Guard) OriginAllowed(origin, referer string) bool {
	for _, candidate := range []string{origin, referer} {
		if candidate == "" {
			continue
		}
		for _, prefix := range g.cfg.AllowedOrigins {
			if strings.HasPrefix(candidate, prefix) {
				return true
			}
		}
	}
	return false
}

func (g *Guard) TokenValid(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.SharedSecret)) == 1
}

func (g *Guard) checkPayload(req Request) Reason {
	if req.Oversize {
		return ReasonPayloadTooLarge
	}
	if len(req.Payload) == 0 {
		return ReasonMissingPayload
	}
	if exceedsDecoded(len(req.Payload), g.cfg.MaxPayloadBytes) {
		return ReasonPayloadTooLarge
	}
	return ReasonNone
}

// EstimateDecodedSize approximates the decoded size of a base64 string of
// encodedLen bytes as three quarters of it, rounded down.
func EstimateDecodedSize(encodedLen int) int64 {
	return int64(encodedLen) * 3 / 4
}

// exceedsDecoded compares encodedLen*0.75 against maxDecoded without rounding.
func exceedsDecoded(encodedLen int, maxDecoded int64) bool {
	return int64(encodedLen)*3 > maxDecoded*4
}

// EncodedLimit is the largest encoded payload length whose estimate still
// fits maxDecoded. maxDecoded must not exceed MaxPayloadLimit.
func EncodedLimit(maxDecoded int64) int64 {
	return maxDecoded * 4 / 3
}
