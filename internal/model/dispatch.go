package model

import "fmt"

// ErrorKind classifies a per-recipient delivery failure.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = "none"
	ErrorKindInvalidRegistration ErrorKind = "invalid_registration"
	ErrorKindNotRegistered       ErrorKind = "not_registered"
	ErrorKindQuotaExceeded       ErrorKind = "quota_exceeded"
	ErrorKindNetwork             ErrorKind = "network"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// Permanent reports whether the gateway declared the registration dead.
func (k ErrorKind) Permanent() bool {
	return k == ErrorKindInvalidRegistration || k == ErrorKindNotRegistered
}

// DispatchOutcome is the result of sending to one registration.
type DispatchOutcome struct {
	Token      string    `json:"token"`
	Success    bool      `json:"success"`
	ErrorKind  ErrorKind `json:"errorKind"`
	MessageID  string    `json:"messageId,omitempty"`
	RawMessage string    `json:"rawMessage,omitempty"`
}

// DispatchResult aggregates the outcomes of one invocation.
type DispatchResult struct {
	RequestedTokenCount int               `json:"requestedTokenCount"`
	SuccessCount        int               `json:"successCount"`
	FailureCount        int               `json:"failureCount"`
	Outcomes            []DispatchOutcome `json:"outcomes"`
}

// NewDispatchResult derives the counts from the outcomes, one per token.
func NewDispatchResult(outcomes []DispatchOutcome) DispatchResult {
	res := DispatchResult{
		RequestedTokenCount: len(outcomes),
		Outcomes:            outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}
	return res
}

// MaxReportedErrors bounds the distinct failure messages carried in a
// response or audit row.
const MaxReportedErrors = 20

// FailureMessages lists the distinct non-empty raw messages of failed
// outcomes in first-seen order, at most MaxReportedErrors of them. When more
// exist, a final entry states how many were left out.
func (r DispatchResult) FailureMessages() []string {
	seen := make(map[string]struct{})
	var out []string
	omitted := 0
	for _, o := range r.Outcomes {
		if o.Success || o.RawMessage == "" {
			continue
		}
		if _, dup := seen[o.RawMessage]; dup {
			continue
		}
		seen[o.RawMessage] = struct{}{}
		if len(out) == MaxReportedErrors {
			omitted++
			continue
		}
		out = append(out, o.RawMessage)
	}
	if omitted > 0 {
		out = append(out, fmt.Sprintf("%d more distinct errors omitted", omitted))
	}
	return out
}
