package broker

import (
	"fmt"
	"sync"
	"time"

	"carefeed/internal/constants"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Config holds the broker connection and mailbox policy settings.
type Config struct {
	URL                string
	MailboxTTL         time.Duration
	OverflowMailboxTTL time.Duration
}

// MailboxStore manages per-recipient durable mailboxes on a RabbitMQ topic
// exchange. Mailboxes are declared lazily on first enqueue; TTL-expired
// entries are dead-lettered to a shared holding queue instead of vanishing.
//
// mu guards connection and declaration state only. Drain and depth polling
// run on dedicated channels, so a slow drain for one recipient never blocks
// publishes or drains for another.
type MailboxStore struct {
	config Config
	logger *logrus.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewMailboxStore(config Config, logger *logrus.Logger) (*MailboxStore, error) {
	if config.MailboxTTL <= 0 {
		config.MailboxTTL = time.Duration(constants.DefaultMailboxTTLDays) * 24 * time.Hour
	}
	if config.OverflowMailboxTTL <= 0 {
		config.OverflowMailboxTTL = time.Duration(constants.DefaultOverflowMailboxTTLDays) * 24 * time.Hour
	}

	s := &MailboxStore{
		config:   config,
		logger:   logger,
		declared: make(map[string]bool),
	}

	if err := s.connect(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *MailboxStore) connect() error {
	conn, err := amqp.Dial(s.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return fmt.Errorf("failed to open channel: %w (close error: %v)", err, closeErr)
		}
		return fmt.Errorf("failed to open channel: %w", err)
	}

	s.conn = conn
	s.ch = ch

	if err := s.declareTopology(); err != nil {
		return err
	}

	s.logger.Info("Connected to broker")
	return nil
}

// declareTopology sets up the shared exchanges and the dead-letter holding
// queue. Per-recipient queues are declared later, on first enqueue.
func (s *MailboxStore) declareTopology() error {
	if err := s.ch.ExchangeDeclare(
		constants.FeedbackExchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare feedback exchange: %w", err)
	}

	if err := s.ch.ExchangeDeclare(
		constants.DeadLetterExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	if _, err := s.ch.QueueDeclare(
		constants.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-mode": "lazy"},
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	if err := s.ch.QueueBind(
		constants.DeadLetterQueue,
		constants.DeadLetterRoutingKey,
		constants.DeadLetterExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	return nil
}

// channel returns the shared publishing channel, reconnecting if the
// connection or channel has been closed. Callers must hold s.mu.
func (s *MailboxStore) channel() (*amqp.Channel, error) {
	if s.conn == nil || s.conn.IsClosed() || s.ch == nil || s.ch.IsClosed() {
		s.declared = make(map[string]bool)
		if err := s.connect(); err != nil {
			return nil, err
		}
	}
	return s.ch, nil
}

// newChannel opens a dedicated channel on the shared connection, reconnecting
// first if needed. Drain and depth polling run on these so they never hold
// s.mu while waiting on the broker; the connection itself is safe for
// concurrent use and channels are cheap to open.
func (s *MailboxStore) newChannel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.channel(); err != nil {
		return nil, err
	}
	return s.conn.Channel()
}

func (s *MailboxStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
