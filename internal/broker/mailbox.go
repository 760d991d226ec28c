package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"carefeed/internal/constants"
	"carefeed/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Poll interval used while waiting out a per-item receive timeout.
const receivePollInterval = 5 * time.Millisecond

// getter is the single-entry receive side of an amqp channel. The drain loop
// takes it instead of a concrete channel so it can be fed canned deliveries
// in tests.
type getter interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// MailboxQueueName returns the durable queue name for a recipient's mailbox.
func MailboxQueueName(recipientID string) string {
	return constants.MailboxQueuePrefix + recipientID
}

// OverflowQueueName returns the longer-retention overflow mailbox name.
func OverflowQueueName(recipientID string) string {
	return constants.MailboxQueuePrefix + recipientID + ".overflow"
}

// MailboxRoutingKey returns the topic routing key for a recipient's mailbox.
func MailboxRoutingKey(recipientID string) string {
	return constants.MailboxRoutingKeyPrefix + recipientID
}

// OverflowRoutingKey returns the routing key for the overflow mailbox.
func OverflowRoutingKey(recipientID string) string {
	return constants.MailboxRoutingKeyPrefix + recipientID + ".overflow"
}

// MailboxArgs builds the declaration arguments for a mailbox queue: entry
// TTL, dead-lettering of expired entries, and disk-preferring lazy mode to
// bound resident memory under backlog growth.
func MailboxArgs(ttl time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             ttl.Milliseconds(),
		"x-dead-letter-exchange":    constants.DeadLetterExchange,
		"x-dead-letter-routing-key": constants.DeadLetterRoutingKey,
		"x-queue-mode":              "lazy",
	}
}

// Enqueue stores an envelope in the recipient's durable mailbox, declaring
// the mailbox on first use. If the primary mailbox cannot accept the entry it
// falls back to the longer-retention overflow mailbox before giving up.
func (s *MailboxStore) Enqueue(ctx context.Context, recipientID string, env *models.DeliveryEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = s.publish(ctx, recipientID, MailboxQueueName(recipientID), MailboxRoutingKey(recipientID), s.config.MailboxTTL, body)
	if err == nil {
		return nil
	}

	s.logger.WithError(err).WithField("recipient", recipientID).
		Warn("Primary mailbox enqueue failed, trying overflow mailbox")

	overflowErr := s.publish(ctx, recipientID, OverflowQueueName(recipientID), OverflowRoutingKey(recipientID), s.config.OverflowMailboxTTL, body)
	if overflowErr != nil {
		return fmt.Errorf("mailbox enqueue failed: %w (overflow: %v)", err, overflowErr)
	}
	return nil
}

// publish declares the target queue if needed, binds it, and publishes one
// persistent entry. Callers must hold s.mu.
func (s *MailboxStore) publish(ctx context.Context, recipientID, queue, routingKey string, ttl time.Duration, body []byte) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}

	if !s.declared[queue] {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, MailboxArgs(ttl)); err != nil {
			return fmt.Errorf("failed to declare mailbox %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, routingKey, constants.FeedbackExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind mailbox %s: %w", queue, err)
		}
		s.declared[queue] = true
	}

	err = ch.PublishWithContext(ctx,
		constants.FeedbackExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// DrainBatch removes and returns up to maxCount entries from the recipient's
// mailbox in FIFO order, draining the primary mailbox before the overflow
// one. Each receive waits at most perItemTimeout and the batch shares one
// deadline of maxCount * perItemTimeout across both mailboxes; the first
// receive that stays empty past its budget ends the batch. Entries are
// acknowledged on retrieval; malformed entries are logged and skipped, never
// aborting the batch. Polling runs on dedicated channels, so concurrent
// drains and enqueues for other recipients are not serialized behind it.
func (s *MailboxStore) DrainBatch(ctx context.Context, recipientID string, maxCount int, perItemTimeout time.Duration) ([]*models.DeliveryEnvelope, error) {
	deadline := time.Now().Add(time.Duration(maxCount) * perItemTimeout)
	envelopes := make([]*models.DeliveryEnvelope, 0, maxCount)

	for _, queue := range []string{MailboxQueueName(recipientID), OverflowQueueName(recipientID)} {
		remaining := maxCount - len(envelopes)
		if remaining <= 0 {
			break
		}

		batch, err := s.drainQueue(ctx, queue, remaining, perItemTimeout, deadline)
		if err != nil {
			return envelopes, err
		}
		envelopes = append(envelopes, batch...)
	}

	return envelopes, nil
}

// drainQueue drains one queue on a dedicated channel. A basic.get against a
// missing queue closes the channel it ran on, so each queue gets its own.
func (s *MailboxStore) drainQueue(ctx context.Context, queue string, maxCount int, perItemTimeout time.Duration, deadline time.Time) ([]*models.DeliveryEnvelope, error) {
	ch, err := s.newChannel()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			s.logger.WithError(err).Debug("Failed to close drain channel")
		}
	}()

	return s.drainFrom(ctx, ch, queue, maxCount, perItemTimeout, deadline)
}

func (s *MailboxStore) drainFrom(ctx context.Context, g getter, queue string, maxCount int, perItemTimeout time.Duration, deadline time.Time) ([]*models.DeliveryEnvelope, error) {
	var envelopes []*models.DeliveryEnvelope

	for len(envelopes) < maxCount {
		delivery, ok, err := s.receive(ctx, g, queue, perItemTimeout, deadline)
		if err != nil {
			return envelopes, fmt.Errorf("failed to receive from %s: %w", queue, err)
		}
		if !ok {
			break
		}

		var env models.DeliveryEnvelope
		if err := json.Unmarshal(delivery.Body, &env); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"queue": queue,
				"bytes": len(delivery.Body),
			}).Warn("Skipping malformed mailbox entry")
			continue
		}

		envelopes = append(envelopes, &env)
	}

	return envelopes, nil
}

// receive polls the queue until an entry arrives or perItemTimeout elapses,
// capped at the batch deadline. Entries are auto-acknowledged, so removal is
// atomic with retrieval.
func (s *MailboxStore) receive(ctx context.Context, g getter, queue string, perItemTimeout time.Duration, deadline time.Time) (amqp.Delivery, bool, error) {
	itemDeadline := time.Now().Add(perItemTimeout)
	if itemDeadline.After(deadline) {
		itemDeadline = deadline
	}

	for {
		delivery, ok, err := g.Get(queue, true)
		if err != nil {
			if isQueueMissing(err) {
				// Mailbox was never declared for this recipient. The failed
				// basic.get closed the channel, which the caller discards.
				return amqp.Delivery{}, false, nil
			}
			return amqp.Delivery{}, false, err
		}
		if ok {
			return delivery, true, nil
		}

		if !time.Now().Before(itemDeadline) {
			return amqp.Delivery{}, false, nil
		}

		select {
		case <-ctx.Done():
			return amqp.Delivery{}, false, ctx.Err()
		case <-time.After(receivePollInterval):
		}
	}
}

// Depth reports the total number of entries held for a recipient across the
// primary and overflow mailboxes. Missing queues count as zero.
func (s *MailboxStore) Depth(ctx context.Context, recipientID string) (int, error) {
	total := 0
	for _, queue := range []string{MailboxQueueName(recipientID), OverflowQueueName(recipientID)} {
		depth, err := s.queueDepth(queue)
		if err != nil {
			return 0, err
		}
		total += depth
	}
	return total, nil
}

// queueDepth inspects a queue with a passive declare on a throwaway channel,
// since a passive declare of a missing queue closes the channel it ran on.
func (s *MailboxStore) queueDepth(queue string) (int, error) {
	inspect, err := s.newChannel()
	if err != nil {
		return 0, fmt.Errorf("failed to open inspection channel: %w", err)
	}

	state, err := inspect.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		if isQueueMissing(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to inspect %s: %w", queue, err)
	}

	if err := inspect.Close(); err != nil {
		s.logger.WithError(err).Debug("Failed to close inspection channel")
	}
	return state.Messages, nil
}

func isQueueMissing(err error) bool {
	amqpErr, ok := err.(*amqp.Error)
	return ok && amqpErr.Code == amqp.NotFound
}
