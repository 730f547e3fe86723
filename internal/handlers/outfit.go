package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sdko-org/outfit-relay/internal/models"
	"github.com/sdko-org/outfit-relay/internal/notify"
	"github.com/sdko-org/outfit-relay/internal/storage"
	"github.com/sirupsen/logrus"
)

type sendOutfitRequest struct {
	Image string `json:"image"`
}

// SendOutfit emails the posted outfit snapshot to the configured recipient.
func (h *RelayHandler) SendOutfit(w http.ResponseWriter, r *http.Request) {
	req := h.guardRequest(r)
	log := h.log.WithFields(logrus.Fields{
		"operation": "send_outfit",
		"client_ip": req.Identity,
	})

	body, oversize, err := h.readBody(w, r)
	if err != nil {
		log.WithError(err).Warn("Failed to read request body")
		writeFailure(w, http.StatusBadRequest, guard.ReasonMissingPayload, "Could not read request body")
		return
	}
	req.Oversize = oversize

	var payload sendOutfitRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			log.WithError(err).Debug("Malformed JSON body treated as missing payload")
		}
	}
	if payload.Image != "" {
		req.Payload = []byte(payload.Image)
	}

	decision, err := h.guard.Evaluate(r.Context(), req)
	if err != nil || !decision.Admitted {
		writeRejection(w, decision.Reason)
		return
	}

	image, err := notify.DecodeImage(payload.Image)
	if err != nil {
		log.WithError(err).Warn("Admitted payload is not valid image data")
		writeFailure(w, http.StatusBadRequest, guard.ReasonDownstreamFailure, "Invalid image data")
		return
	}

	timeout := h.cfg.EmailTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	sendErr := h.dispatcher.SendOutfit(ctx, image)
	h.archiveSnapshot(req.Identity, image, sendErr == nil)

	if sendErr != nil {
		if errors.Is(sendErr, notify.ErrNotConfigured) {
			writeFailure(w, http.StatusInternalServerError, guard.ReasonDownstreamFailure, "Email configuration missing")
			return
		}
		writeFailure(w, http.StatusBadGateway, guard.ReasonDownstreamFailure, "Failed to send email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Outfit sent successfully!",
	})
}

// archiveSnapshot uploads the snapshot and records it without holding up the
// response. Failures are logged only.
func (h *RelayHandler) archiveSnapshot(clientIP string, image []byte, emailed bool) {
	if _, noop := h.archive.(storage.NoopArchive); noop && h.db == nil {
		return
	}
	sum := sha256.Sum256(image)
	digest := hex.EncodeToString(sum[:])
	storedAt := h.now()
	key := storage.SnapshotKey(storedAt, digest[:16])

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		log := h.log.WithFields(logrus.Fields{
			"operation": "archive_snapshot",
			"key":       key,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		archived := false
		_, noop := h.archive.(storage.NoopArchive)
		for attempt := 1; !noop && attempt <= 3; attempt++ {
			err := h.archive.Put(ctx, key, image, "image/png")
			if err == nil {
				archived = true
				break
			}
			log.WithError(err).WithField("attempt", attempt).Warn("Snapshot upload failed")
			if attempt == 3 {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		if h.db == nil {
			return
		}
		record := models.SnapshotRecord{
			Key:       key,
			ClientIP:  clientIP,
			SizeBytes: int64(len(image)),
			Digest:    digest,
			Emailed:   emailed,
			Archived:  archived,
			StoredAt:  storedAt,
		}
		if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
			log.WithError(err).Warn("Failed to save snapshot record")
		}
	}()
}
