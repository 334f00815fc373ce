package fcm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bark-labs/pushdispatch/internal/model"
)

func TestBuildMessageDefaults(t *testing.T) {
	p := model.NotificationPayload{
		Title:    "Compressor 2",
		Body:     "Maintenance due",
		Priority: model.PriorityHigh,
	}
	msg := BuildMessage("tok", p, EnvelopeOptions{Icon: "/icon.png", Badge: "/badge.png"})

	if msg.Token != "tok" || msg.Notification.Title != "Compressor 2" || msg.Notification.Image != "" {
		t.Errorf("unexpected notification block: %+v", msg.Notification)
	}
	if msg.Webpush.FCMOptions != nil {
		t.Errorf("fcm_options = %+v, want omitted without an https link", msg.Webpush.FCMOptions)
	}
	if msg.Webpush.Notification.Icon != "/icon.png" || msg.Webpush.Notification.Badge != "/badge.png" {
		t.Errorf("webpush notification = %+v", msg.Webpush.Notification)
	}
	if msg.Webpush.Headers["Urgency"] != "high" {
		t.Errorf("urgency = %q", msg.Webpush.Headers["Urgency"])
	}
	if _, ok := msg.Webpush.Headers["TTL"]; ok {
		t.Error("TTL header set without ttl")
	}
	if msg.Android.Priority != "HIGH" || msg.Android.TTL != "" || msg.Android.CollapseKey != "" {
		t.Errorf("android = %+v", msg.Android)
	}
	if msg.APNS.Headers["apns-priority"] != "10" {
		t.Errorf("apns = %+v", msg.APNS.Headers)
	}
}

func TestBuildMessageOptions(t *testing.T) {
	ttl := 600
	p := model.NotificationPayload{
		Title:       "t",
		Body:        "b",
		Image:       "https://cdn.example/pump.png",
		Data:        map[string]string{"type": "maintenance_due", "url": "/maintenance/42"},
		Priority:    model.PriorityNormal,
		TTLSeconds:  &ttl,
		CollapseKey: "maint-42",
	}
	msg := BuildMessage("tok", p, EnvelopeOptions{LinkBase: "https://cmms.example/"})

	if msg.Webpush.FCMOptions.Link != "https://cmms.example/maintenance/42" {
		t.Errorf("link = %q", msg.Webpush.FCMOptions.Link)
	}
	if msg.Webpush.Notification.Tag != "maint-42" {
		t.Errorf("tag = %q", msg.Webpush.Notification.Tag)
	}
	if msg.Webpush.Headers["TTL"] != "600" || msg.Webpush.Headers["Urgency"] != "normal" {
		t.Errorf("webpush headers = %v", msg.Webpush.Headers)
	}
	if msg.Android.Priority != "NORMAL" || msg.Android.TTL != "600s" || msg.Android.CollapseKey != "maint-42" {
		t.Errorf("android = %+v", msg.Android)
	}
	if msg.APNS.Headers["apns-priority"] != "5" || msg.APNS.Headers["apns-collapse-id"] != "maint-42" {
		t.Errorf("apns = %v", msg.APNS.Headers)
	}
	if msg.Data["type"] != "maintenance_due" {
		t.Errorf("data = %v", msg.Data)
	}
}

func TestBuildMessageTagFallsBackToType(t *testing.T) {
	p := model.NotificationPayload{Title: "t", Body: "b", Data: map[string]string{"type": "work_order", "url": "https://other.example/x"}}
	msg := BuildMessage("tok", p, EnvelopeOptions{LinkBase: "https://cmms.example"})
	if msg.Webpush.Notification.Tag != "work_order" {
		t.Errorf("tag = %q", msg.Webpush.Notification.Tag)
	}
	if msg.Webpush.FCMOptions.Link != "https://other.example/x" {
		t.Errorf("absolute link rewritten: %q", msg.Webpush.FCMOptions.Link)
	}
}

func TestBuildMessageLinkRequiresHTTPS(t *testing.T) {
	tests := []struct {
		name string
		url  string
		base string
		want string
	}{
		{"default path with base", "", "https://cmms.example", "https://cmms.example/"},
		{"relative without base", "/work-orders/12", "", ""},
		{"plain http", "http://cmms.example/x", "", ""},
		{"http base", "/x", "http://cmms.example", ""},
		{"custom scheme", "cmms://open/12", "https://cmms.example", ""},
		{"protocol relative", "//evil.example/x", "https://cmms.example", ""},
		{"absolute https", "https://cmms.example/x?id=1", "", "https://cmms.example/x?id=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.NotificationPayload{Title: "t", Body: "b"}
			if tt.url != "" {
				p.Data = map[string]string{"url": tt.url}
			}
			msg := BuildMessage("tok", p, EnvelopeOptions{LinkBase: tt.base})
			got := ""
			if msg.Webpush.FCMOptions != nil {
				got = msg.Webpush.FCMOptions.Link
			}
			if got != tt.want {
				t.Errorf("link = %q, want %q", got, tt.want)
			}
		})
	}

	raw, err := json.Marshal(BuildMessage("tok", model.NotificationPayload{Title: "t", Body: "b"}, EnvelopeOptions{}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "fcm_options") {
		t.Errorf("fcm_options serialized without a link: %s", raw)
	}
}
