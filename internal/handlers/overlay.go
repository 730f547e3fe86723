package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sdko-org/outfit-relay/internal/overlay"
	"github.com/sirupsen/logrus"
)

type overlayRequest struct {
	Outfit json.RawMessage `json:"outfit"`
}

type overlayResponse struct {
	Success   bool            `json:"success"`
	Outfit    json.RawMessage `json:"outfit"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// SaveOverlay replaces the current overlay outfit.
func (h *RelayHandler) SaveOverlay(w http.ResponseWriter, r *http.Request) {
	req := h.guardRequest(r)
	log := h.log.WithFields(logrus.Fields{
		"operation": "save_overlay",
		"client_ip": req.Identity,
	})

	body, oversize, err := h.readBody(w, r)
	if err != nil {
		log.WithError(err).Warn("Failed to read request body")
		writeFailure(w, http.StatusBadRequest, guard.ReasonMissingPayload, "Could not read request body")
		return
	}
	req.Oversize = oversize

	var payload overlayRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			log.WithError(err).Debug("Malformed JSON body treated as missing payload")
		}
	}
	if trimmed := bytes.TrimSpace(payload.Outfit); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		req.Payload = trimmed
	}

	decision, err := h.guard.Evaluate(r.Context(), req)
	if err != nil || !decision.Admitted {
		writeRejection(w, decision.Reason)
		return
	}

	state, err := overlay.Normalize(req.Payload)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, guard.ReasonDownstreamFailure, "Invalid outfit data")
		return
	}
	if err := h.overlay.Save(r.Context(), state); err != nil {
		log.WithError(err).Error("Failed to save overlay state")
		writeFailure(w, http.StatusInternalServerError, guard.ReasonDownstreamFailure, "Failed to save outfit")
		return
	}

	log.Info("Overlay outfit updated")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// GetOverlay returns the current overlay outfit, or null when none is set.
func (h *RelayHandler) GetOverlay(w http.ResponseWriter, r *http.Request) {
	state, ok, err := h.overlay.Get(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to load overlay state")
		writeFailure(w, http.StatusInternalServerError, guard.ReasonDownstreamFailure, "Failed to load outfit")
		return
	}

	resp := overlayResponse{Success: true, Outfit: json.RawMessage("null")}
	if ok {
		resp.Outfit = state.Payload
		resp.UpdatedAt = &state.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearOverlay empties the slot. It checks origin and token but does not
// count against the rate limit.
func (h *RelayHandler) ClearOverlay(w http.ResponseWriter, r *http.Request) {
	req := h.guardRequest(r)
	if decision := h.guard.Authorize(req); !decision.Admitted {
		writeRejection(w, decision.Reason)
		return
	}

	if err := h.overlay.Clear(r.Context()); err != nil {
		h.log.WithError(err).Error("Failed to clear overlay state")
		writeFailure(w, http.StatusInternalServerError, guard.ReasonDownstreamFailure, "Failed to clear outfit")
		return
	}

	h.log.WithField("client_ip", req.Identity).Info("Overlay outfit cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
