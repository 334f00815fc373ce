package fcm

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/bark-labs/pushdispatch/internal/model"
)

// Message is the v1 send envelope for a single registration.
type Message struct {
	Token        string            `json:"token"`
	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Webpush      *WebpushConfig    `json:"webpush,omitempty"`
	Android      *AndroidConfig    `json:"android,omitempty"`
	APNS         *APNSConfig       `json:"apns,omitempty"`
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type WebpushConfig struct {
	Headers      map[string]string    `json:"headers,omitempty"`
	Notification *WebpushNotification `json:"notification,omitempty"`
	FCMOptions   *WebpushFCMOptions   `json:"fcm_options,omitempty"`
}

type WebpushNotification struct {
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type WebpushFCMOptions struct {
	Link string `json:"link,omitempty"`
}

type AndroidConfig struct {
	Priority    string `json:"priority,omitempty"`
	CollapseKey string `json:"collapse_key,omitempty"`
	TTL         string `json:"ttl,omitempty"`
}

type APNSConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
}

// EnvelopeOptions carries the deployment-wide platform metadata.
type EnvelopeOptions struct {
	Icon  string
	Badge string
	// LinkBase is prefixed to relative deep links.
	LinkBase string
}

// BuildMessage assembles the envelope for one token. The deep link comes from
// data["url"], defaults to "/" and is resolved against LinkBase. FCM only
// accepts https click links, so fcm_options is left out when the link does
// not resolve to one.
func BuildMessage(token string, p model.NotificationPayload, opts EnvelopeOptions) *Message {
	msg := &Message{
		Token: token,
		Notification: &Notification{
			Title: p.Title,
			Body:  p.Body,
			Image: p.Image,
		},
		Data: p.Data,
	}

	high := p.Priority != model.PriorityNormal

	webHeaders := map[string]string{"Urgency": "normal"}
	if high {
		webHeaders["Urgency"] = "high"
	}
	if p.TTLSeconds != nil {
		webHeaders["TTL"] = strconv.Itoa(*p.TTLSeconds)
	}
	msg.Webpush = &WebpushConfig{
		Headers: webHeaders,
		Notification: &WebpushNotification{
			Icon:  opts.Icon,
			Badge: opts.Badge,
			Tag:   tag(p),
		},
	}
	if l := link(p.Data, opts.LinkBase); l != "" {
		msg.Webpush.FCMOptions = &WebpushFCMOptions{Link: l}
	}

	android := &AndroidConfig{Priority: "NORMAL", CollapseKey: p.CollapseKey}
	apnsHeaders := map[string]string{"apns-priority": "5"}
	if high {
		android.Priority = "HIGH"
		apnsHeaders["apns-priority"] = "10"
	}
	if p.TTLSeconds != nil {
		android.TTL = strconv.Itoa(*p.TTLSeconds) + "s"
	}
	if p.CollapseKey != "" {
		apnsHeaders["apns-collapse-id"] = p.CollapseKey
	}
	msg.Android = android
	msg.APNS = &APNSConfig{Headers: apnsHeaders}
	return msg
}

func tag(p model.NotificationPayload) string {
	if p.CollapseKey != "" {
		return p.CollapseKey
	}
	return p.Data["type"]
}

// link returns the https click target for data["url"], or "" when none can
// be formed.
func link(data map[string]string, base string) string {
	target := strings.TrimSpace(data["url"])
	if target == "" {
		target = "/"
	}
	if base != "" && strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		target = strings.TrimSuffix(base, "/") + target
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return target
}
