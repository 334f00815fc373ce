package fcm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/bark-labs/pushdispatch/internal/model"
)

// Error is a non-2xx response from the send endpoint.
type Error struct {
	HTTPStatus int
	// Status is the google.rpc status name, e.g. NOT_FOUND.
	Status string
	// Code is the FcmError errorCode detail, e.g. UNREGISTERED.
	Code    string
	Message string
}

func (e *Error) Error() string {
	code := e.Code
	if code == "" {
		code = e.Status
	}
	if code == "" {
		code = http.StatusText(e.HTTPStatus)
	}
	if e.Message == "" {
		return fmt.Sprintf("fcm: %d %s", e.HTTPStatus, code)
	}
	return fmt.Sprintf("fcm: %d %s: %s", e.HTTPStatus, code, e.Message)
}

// ErrMissingMessageID is returned when a 2xx response carries no message name.
var ErrMissingMessageID = errors.New("fcm: response carried no message id")

// Classify maps a send error onto the outcome taxonomy. Structured codes are
// authoritative; the legacy substring table is consulted only when a response
// carries no recognised code.
func Classify(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorKindNone
	}
	var fe *Error
	if errors.As(err, &fe) {
		if kind, ok := classifyStructured(fe); ok {
			return kind
		}
		return classifyText(fe.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.ErrorKindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.ErrorKindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return model.ErrorKindNetwork
	}
	return classifyText(err.Error())
}

func classifyStructured(e *Error) (model.ErrorKind, bool) {
	switch e.Code {
	case "UNREGISTERED":
		return model.ErrorKindNotRegistered, true
	case "SENDER_ID_MISMATCH":
		return model.ErrorKindInvalidRegistration, true
	case "INVALID_ARGUMENT":
		return invalidArgument(e.Message), true
	case "QUOTA_EXCEEDED":
		return model.ErrorKindQuotaExceeded, true
	case "UNAVAILABLE":
		return model.ErrorKindNetwork, true
	case "INTERNAL", "THIRD_PARTY_AUTH_ERROR", "UNSPECIFIED_ERROR":
		return model.ErrorKindUnknown, true
	}
	switch e.Status {
	case "NOT_FOUND":
		return model.ErrorKindNotRegistered, true
	case "INVALID_ARGUMENT":
		return invalidArgument(e.Message), true
	case "RESOURCE_EXHAUSTED":
		return model.ErrorKindQuotaExceeded, true
	case "UNAVAILABLE", "DEADLINE_EXCEEDED":
		return model.ErrorKindNetwork, true
	}
	switch e.HTTPStatus {
	case http.StatusTooManyRequests:
		return model.ErrorKindQuotaExceeded, true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return model.ErrorKindNetwork, true
	}
	return "", false
}

// INVALID_ARGUMENT also covers malformed payloads, which must not cost the
// recipient its registration.
func invalidArgument(msg string) model.ErrorKind {
	if strings.Contains(strings.ToLower(msg), "registration token") {
		return model.ErrorKindInvalidRegistration
	}
	return model.ErrorKindUnknown
}

// classifyText is the last-resort fallback for free-text errors from older
// gateway versions.
func classifyText(msg string) model.ErrorKind {
	switch {
	case strings.Contains(msg, "NotRegistered"), strings.Contains(msg, "registration-token-not-registered"):
		return model.ErrorKindNotRegistered
	case strings.Contains(msg, "InvalidRegistration"), strings.Contains(msg, "invalid-registration-token"),
		strings.Contains(msg, "MismatchSenderId"):
		return model.ErrorKindInvalidRegistration
	case strings.Contains(msg, "QuotaExceeded"), strings.Contains(msg, "DeviceMessageRateExceeded"),
		strings.Contains(msg, "message-rate-exceeded"):
		return model.ErrorKindQuotaExceeded
	default:
		return model.ErrorKindUnknown
	}
}
