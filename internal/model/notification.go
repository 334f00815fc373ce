package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// NotificationRequest is the invocation body accepted from triggers, jobs and
// administrative callers.
type NotificationRequest struct {
	Token        string                     `json:"token,omitempty"`
	Tokens       []string                   `json:"tokens,omitempty"`
	UserIDs      []string                   `json:"user_ids,omitempty"`
	Roles        []int                      `json:"roles,omitempty"`
	Departments  []string                   `json:"departments,omitempty"`
	Broadcast    bool                       `json:"broadcast,omitempty"`
	Notification NotificationContent        `json:"notification"`
	Data         map[string]json.RawMessage `json:"data,omitempty"`
	Options      *NotificationOptions       `json:"options,omitempty"`
}

type NotificationContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type NotificationOptions struct {
	Priority    string `json:"priority,omitempty"`
	TTL         *int   `json:"ttl,omitempty"`
	CollapseKey string `json:"collapse_key,omitempty"`
}

// TargetSpec holds the OR-combined recipient criteria of one request.
type TargetSpec struct {
	Tokens      []string `json:"tokens,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
	Roles       []int    `json:"roles,omitempty"`
	Departments []string `json:"departments,omitempty"`
	Broadcast   bool     `json:"broadcast,omitempty"`
}

// Target collects the request criteria, dropping blank entries.
func (r NotificationRequest) Target() TargetSpec {
	tokens := make([]string, 0, len(r.Tokens)+1)
	if r.Token != "" {
		tokens = append(tokens, r.Token)
	}
	tokens = append(tokens, r.Tokens...)
	return TargetSpec{
		Tokens:      compact(tokens),
		UserIDs:     compact(r.UserIDs),
		Roles:       r.Roles,
		Departments: compact(r.Departments),
		Broadcast:   r.Broadcast,
	}
}

// Empty reports whether no criterion is populated.
func (t TargetSpec) Empty() bool {
	return len(t.Tokens) == 0 && len(t.UserIDs) == 0 && len(t.Roles) == 0 &&
		len(t.Departments) == 0 && !t.Broadcast
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// NotificationPayload is the validated content delivered to every recipient.
type NotificationPayload struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Image       string            `json:"image,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	Priority    Priority          `json:"priority"`
	TTLSeconds  *int              `json:"ttl_seconds,omitempty"`
	CollapseKey string            `json:"collapse_key,omitempty"`
}

// FlattenData converts the raw JSON values of a request into the string map
// the gateway requires. Strings are unquoted, nulls are dropped, and numbers,
// booleans, objects and arrays keep their JSON text exactly as received.
func FlattenData(data map[string]json.RawMessage) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, raw := range data {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		if raw[0] == '"' {
			var str string
			if err := json.Unmarshal(raw, &str); err == nil {
				out[k] = str
				continue
			}
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			out[k] = string(raw)
			continue
		}
		out[k] = buf.String()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func compact(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
