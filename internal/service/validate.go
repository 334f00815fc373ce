package service

import (
	"fmt"
	"strings"

	"github.com/bark-labs/pushdispatch/internal/model"
)

// ValidateRequest checks an invocation and splits it into the targeting
// criteria and the payload delivered to every recipient.
func ValidateRequest(req model.NotificationRequest) (model.TargetSpec, model.NotificationPayload, error) {
	title := strings.TrimSpace(req.Notification.Title)
	body := strings.TrimSpace(req.Notification.Body)
	if title == "" || body == "" {
		return model.TargetSpec{}, model.NotificationPayload{}, fmt.Errorf("%w: notification.title and notification.body are required", ErrValidation)
	}

	target := req.Target()
	if target.Empty() {
		return model.TargetSpec{}, model.NotificationPayload{}, fmt.Errorf("%w: at least one of token, tokens, user_ids, roles, departments or broadcast is required", ErrValidation)
	}

	payload := model.NotificationPayload{
		Title:    title,
		Body:     body,
		Image:    strings.TrimSpace(req.Notification.Image),
		Data:     model.FlattenData(req.Data),
		Priority: model.PriorityHigh,
	}
	if opts := req.Options; opts != nil {
		switch model.Priority(strings.ToLower(strings.TrimSpace(opts.Priority))) {
		case "", model.PriorityHigh:
		case model.PriorityNormal:
			payload.Priority = model.PriorityNormal
		default:
			return model.TargetSpec{}, model.NotificationPayload{}, fmt.Errorf("%w: options.priority must be high or normal", ErrValidation)
		}
		if opts.TTL != nil {
			if *opts.TTL < 0 {
				return model.TargetSpec{}, model.NotificationPayload{}, fmt.Errorf("%w: options.ttl must not be negative", ErrValidation)
			}
			ttl := *opts.TTL
			payload.TTLSeconds = &ttl
		}
		payload.CollapseKey = strings.TrimSpace(opts.CollapseKey)
	}
	return target, payload, nil
}
