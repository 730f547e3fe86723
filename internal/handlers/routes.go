package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes wires the relay endpoints. reads, when set, throttles the
// public overlay poll.
func RegisterRoutes(r *mux.Router, h *RelayHandler, reads *ReadLimiter) {
	var getOverlay http.Handler = http.HandlerFunc(h.GetOverlay)
	if reads != nil {
		getOverlay = reads.Middleware(h.cfg.TrustForwardedFor)(getOverlay)
	}

	r.HandleFunc("/health", HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/send-outfit", h.SendOutfit).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/obs/outfit", h.SaveOverlay).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/obs/outfit", h.ClearOverlay).Methods(http.MethodDelete)
	r.Handle("/obs/outfit", getOverlay).Methods(http.MethodGet)
}
