package guard

import "errors"

// Reason identifies why a request was rejected.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonUnauthorizedOrigin    Reason = "unauthorized_origin"
	ReasonRateLimited           Reason = "rate_limited"
	ReasonInvalidAuthentication Reason = "invalid_authentication"
	ReasonMissingPayload        Reason = "missing_payload"
	ReasonPayloadTooLarge       Reason = "payload_too_large"
	ReasonDownstreamFailure     Reason = "downstream_failure"
)

var (
	ErrUnauthorizedOrigin    = errors.New("unauthorized origin")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrInvalidAuthentication = errors.New("invalid authentication")
	ErrMissingPayload        = errors.New("missing payload")
	ErrPayloadTooLarge       = errors.New("payload too large")
	ErrDownstreamFailure     = errors.New("downstream failure")
)

var reasonErrors = map[Reason]error{
	ReasonUnauthorizedOrigin:    ErrUnauthorizedOrigin,
	ReasonRateLimited:           ErrRateLimited,
	ReasonInvalidAuthentication: ErrInvalidAuthentication,
	ReasonMissingPayload:        ErrMissingPayload,
	ReasonPayloadTooLarge:       ErrPayloadTooLarge,
	ReasonDownstreamFailure:     ErrDownstreamFailure,
}

// Err returns the sentinel error for r, or nil for ReasonNone.
func (r Reason) Err() error {
	return reasonErrors[r]
}

func (r Reason) String() string {
	if r == ReasonNone {
		return "admitted"
	}
	return string(r)
}

// ReasonOf maps a sentinel error (possibly wrapped) back to its Reason.
func ReasonOf(err error) Reason {
	for reason, sentinel := range reasonErrors {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return ReasonNone
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
