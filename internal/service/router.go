package service

import (
	"context"
	"time"

	apperrors "carefeed/internal/errors"
	"carefeed/internal/metrics"
	"carefeed/internal/models"

	"github.com/sirupsen/logrus"
)

// LiveChannel pushes an envelope to a currently-connected recipient. Success
// means "handed to the transport", not "received by a live client".
type LiveChannel interface {
	Push(ctx context.Context, recipientID string, env *models.DeliveryEnvelope) error
}

// Mailbox is the durable per-recipient holding area for undelivered
// envelopes.
type Mailbox interface {
	Enqueue(ctx context.Context, recipientID string, env *models.DeliveryEnvelope) error
	DrainBatch(ctx context.Context, recipientID string, maxCount int, perItemTimeout time.Duration) ([]*models.DeliveryEnvelope, error)
	Depth(ctx context.Context, recipientID string) (int, error)
}

// Presence reports the best-effort belief about recipient connectivity.
type Presence interface {
	IsOnline(ctx context.Context, recipientID string) bool
}

// UnreadCounter tracks per-recipient badge counts.
type UnreadCounter interface {
	Increment(ctx context.Context, recipientID string, delta int64) error
	Decrement(ctx context.Context, recipientID string, delta int64) error
	Read(ctx context.Context, recipientID string) (int64, error)
	Reset(ctx context.Context, recipientID string) error
}

// Router decides whether an envelope can be pushed live or must be held in
// the recipient's durable mailbox.
type Router struct {
	presence Presence
	live     LiveChannel
	mailbox  Mailbox
	unread   UnreadCounter
	logger   *logrus.Logger
}

func NewRouter(presence Presence, live LiveChannel, mailbox Mailbox, unread UnreadCounter, logger *logrus.Logger) *Router {
	return &Router{
		presence: presence,
		live:     live,
		mailbox:  mailbox,
		unread:   unread,
		logger:   logger,
	}
}

// Route delivers an envelope either via the live channel (recipient
// connected) or into the recipient's mailbox. A failed live push falls back
// to the mailbox so the message is not lost. Broker errors are logged here
// and never surface to the sender's calling path; the unread counter is
// incremented only when an entry was actually enqueued.
func (r *Router) Route(ctx context.Context, env *models.DeliveryEnvelope) (models.DeliveryOutcome, error) {
	if env == nil || env.RecipientID == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "envelope has no recipient")
	}

	recipientID := env.RecipientID

	if r.presence.IsOnline(ctx, recipientID) {
		if err := r.live.Push(ctx, recipientID, env); err == nil {
			metrics.IncrementCounter("routed_live_total", nil, "Messages pushed via the live channel")
			return models.OutcomeLiveDelivered, nil
		} else {
			apperrors.LogWarn(r.logger,
				apperrors.Wrap(err, apperrors.ErrCodeLivePush, "live push failed, falling back to mailbox"),
				"Live push failed", logrus.Fields{
					LogFieldRecipient: SanitizeRecipientID(recipientID),
					LogFieldMessageID: SanitizeMessageID(env.Message.ID),
				})
		}
	}

	if err := r.mailbox.Enqueue(ctx, recipientID, env); err != nil {
		// Known gap: without a durable outbox the message is lost when the
		// broker itself is down. The sender path still sees success.
		metrics.IncrementCounter("enqueue_failures_total", nil, "Mailbox enqueue failures")
		apperrors.LogError(r.logger,
			apperrors.Wrap(err, apperrors.ErrCodeBrokerPublish, "mailbox enqueue failed"),
			"Failed to enqueue message to mailbox", logrus.Fields{
				LogFieldRecipient: SanitizeRecipientID(recipientID),
				LogFieldMessageID: SanitizeMessageID(env.Message.ID),
			})
		return models.OutcomeEnqueued, nil
	}

	metrics.IncrementCounter("routed_mailbox_total", nil, "Messages enqueued to a mailbox")

	if err := r.unread.Increment(ctx, recipientID, 1); err != nil {
		apperrors.LogWarn(r.logger,
			apperrors.Wrap(err, apperrors.ErrCodeCounterStore, "unread counter increment failed"),
			"Failed to increment unread counter", logrus.Fields{
				LogFieldRecipient: SanitizeRecipientID(recipientID),
			})
	}

	return models.OutcomeEnqueued, nil
}
