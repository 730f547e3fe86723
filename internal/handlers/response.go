package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sdko-org/outfit-relay/internal/guard"
)

var reasonStatus = map[guard.Reason]int{
	guard.ReasonUnauthorizedOrigin:    http.StatusForbidden,
	guard.ReasonRateLimited:           http.StatusTooManyRequests,
	guard.ReasonInvalidAuthentication: http.StatusUnauthorized,
	guard.ReasonMissingPayload:        http.StatusBadRequest,
	guard.ReasonPayloadTooLarge:       http.StatusRequestEntityTooLarge,
	guard.ReasonDownstreamFailure:     http.StatusBadGateway,
}

var reasonMessage = map[guard.Reason]string{
	guard.ReasonUnauthorizedOrigin:    "Unauthorized origin",
	guard.ReasonRateLimited:           "Too many requests, please try again later",
	guard.ReasonInvalidAuthentication: "Invalid authentication token",
	guard.ReasonMissingPayload:        "No data provided",
	guard.ReasonPayloadTooLarge:       "Payload too large",
	guard.ReasonDownstreamFailure:     "Request could not be completed",
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Reason  guard.Reason `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRejection(w http.ResponseWriter, reason guard.Reason) {
	writeFailure(w, reasonStatus[reason], reason, reasonMessage[reason])
}

func writeFailure(w http.ResponseWriter, status int, reason guard.Reason, message string) {
	noteReason(w, reason)
	if reason == guard.ReasonRateLimited && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, errorResponse{Success: false, Error: message, Reason: reason})
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
