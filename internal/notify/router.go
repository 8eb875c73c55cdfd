package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nudgehq/nudge/internal/inbox"
	"github.com/nudgehq/nudge/internal/metrics"
	"github.com/nudgehq/nudge/internal/reminders"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Platform is the internal API the router depends on.
type Platform interface {
	IsPlatformUser(ctx context.Context, tenantID, phone string) (bool, error)
	SendSMS(ctx context.Context, tenantID string, msg SMS) error
}

// Inbox receives IN_APP deliveries.
type Inbox interface {
	Deliver(ctx context.Context, tenantID string, m *inbox.Message) error
}

// Decision describes how one reminder was delivered.
type Decision struct {
	Channel reminders.Channel `json:"channel"`
	Outcome string            `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// Delivered reports whether the selected channel accepted the message.
func (d Decision) Delivered() bool {
	return d.Outcome == OutcomeDelivered
}

// Router picks a channel for a reminder and delivers it. Delivery failures
// are logged and reported in the Decision, never returned.
type Router struct {
	platform Platform
	inbox    Inbox
}

// NewRouter creates a router.
func NewRouter(platform Platform, in Inbox) *Router {
	return &Router{platform: platform, inbox: in}
}

// SelectChannel decides the channel for r. RELAY reminders with a phone
// number go by SMS unless the platform positively confirms the number
// belongs to a user; a failed lookup counts as "not a user".
func (r *Router) SelectChannel(ctx context.Context, tenantID string, rem *reminders.Reminder) reminders.Channel {
	if rem.Type != reminders.TypeRelay || rem.Content.TargetPhone == "" {
		return reminders.ChannelInApp
	}

	isUser, err := r.platform.IsPlatformUser(ctx, tenantID, rem.Content.TargetPhone)
	if err != nil {
		metrics.RecordDownstreamError("user_check")
		log.Warn().
			Err(err).
			Str("tenant_id", tenantID).
			Str("reminder_id", rem.ID).
			Msg("Platform user check failed, falling back to SMS")
		return reminders.ChannelSMS
	}
	if isUser {
		return reminders.ChannelInApp
	}
	return reminders.ChannelSMS
}

// Route selects a channel and delivers rem through it.
func (r *Router) Route(ctx context.Context, tenantID, executionID string, rem *reminders.Reminder) Decision {
	d := Decision{Channel: r.SelectChannel(ctx, tenantID, rem), Outcome: OutcomeDelivered}

	var err error
	switch d.Channel {
	case reminders.ChannelSMS:
		err = r.sendSMS(ctx, tenantID, rem)
	default:
		err = r.inbox.Deliver(ctx, tenantID, &inbox.Message{
			UserID:      rem.TargetUserID,
			ReminderID:  rem.ID,
			ExecutionID: executionID,
			Who:         rem.Content.Who,
			Text:        rem.Content.Text,
		})
	}

	if err != nil {
		d.Outcome = OutcomeFailed
		d.Error = err.Error()
		log.Error().
			Err(err).
			Str("tenant_id", tenantID).
			Str("reminder_id", rem.ID).
			Str("execution_id", executionID).
			Str("channel", string(d.Channel)).
			Msg("Reminder delivery failed")
	} else {
		log.Debug().
			Str("tenant_id", tenantID).
			Str("reminder_id", rem.ID).
			Str("execution_id", executionID).
			Str("channel", string(d.Channel)).
			Msg("Reminder delivered")
	}

	metrics.RecordDelivery(string(d.Channel), d.Outcome)
	return d
}

func (r *Router) sendSMS(ctx context.Context, tenantID string, rem *reminders.Reminder) error {
	who := rem.Content.Who
	if who == "" {
		who = reminders.DefaultWho
	}
	who, _ = reminders.Truncate(who, reminders.MaxRelayFieldLen)
	what, _ := reminders.Truncate(rem.Content.Text, reminders.MaxRelayFieldLen)

	err := r.platform.SendSMS(ctx, tenantID, SMS{
		PhoneNumber: rem.Content.TargetPhone,
		Who:         who,
		What:        what,
	})
	if err != nil {
		metrics.RecordDownstreamError("sms_send")
	}
	return err
}
