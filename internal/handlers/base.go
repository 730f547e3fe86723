package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sdko-org/outfit-relay/internal/config"
	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sdko-org/outfit-relay/internal/notify"
	"github.com/sdko-org/outfit-relay/internal/overlay"
	"github.com/sdko-org/outfit-relay/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// envelopeSlack covers the JSON wrapper around an encoded payload.
const envelopeSlack = 64 * 1024

type RelayHandler struct {
	cfg        *config.Config
	guard      *guard.Guard
	overlay    overlay.Store
	dispatcher notify.Dispatcher
	archive    storage.Archive
	db         *gorm.DB
	log        *logrus.Entry
	now        func() time.Time
	background sync.WaitGroup
}

func NewRelayHandler(logger *logrus.Logger, cfg *config.Config, g *guard.Guard, store overlay.Store, dispatcher notify.Dispatcher, archive storage.Archive, db *gorm.DB) *RelayHandler {
	if archive == nil {
		archive = storage.NoopArchive{}
	}
	return &RelayHandler{
		cfg:        cfg,
		guard:      g,
		overlay:    store,
		dispatcher: dispatcher,
		archive:    archive,
		db:         db,
		log:        logger.WithField("component", "relay_handler"),
		now:        time.Now,
	}
}

// Wait blocks until background archive tasks have finished.
func (h *RelayHandler) Wait() {
	h.background.Wait()
}

// guardRequest extracts everything the guard inspects except the payload.
func (h *RelayHandler) guardRequest(r *http.Request) guard.Request {
	return guard.Request{
		Origin:   r.Header.Get("Origin"),
		Referer:  r.Header.Get("Referer"),
		Identity: ClientIP(r, h.cfg.TrustForwardedFor),
		Token:    authToken(r),
	}
}

// readBody reads at most the encoded payload limit plus envelope slack.
// oversize reports that the cap was hit; the body is then discarded.
func (h *RelayHandler) readBody(w http.ResponseWriter, r *http.Request) (body []byte, oversize bool, err error) {
	limit := guard.EncodedLimit(h.cfg.MaxPayloadBytes) + envelopeSlack
	body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return body, false, nil
}

// authToken prefers X-Auth-Token and falls back to a bearer token.
func authToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-Auth-Token")); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
