package service

import (
	"context"
	"sync"
	"time"

	"carefeed/internal/constants"
	apperrors "carefeed/internal/errors"
	"carefeed/internal/metrics"

	"github.com/sirupsen/logrus"
)

// drainTaskQueueSize bounds the pending drain task backlog. Reconnect storms
// beyond this are dropped with a warning; the affected recipient drains on
// their next reconnect.
const drainTaskQueueSize = 1024

// DrainConfig holds the batching policy for backlog draining.
type DrainConfig struct {
	BatchSize      int
	ReceiveTimeout time.Duration
	WorkerPoolSize int
}

// DrainWorker replays held mailbox entries to reconnecting recipients. Each
// reconnect submits a task to a bounded worker pool; the reconnect path never
// waits for draining. Per recipient the worker is either Idle or Draining,
// with at most one active drain at a time: concurrent reconnects for the same
// recipient are coalesced to preserve FIFO order and avoid duplicate batches.
type DrainWorker struct {
	mailbox Mailbox
	live    LiveChannel
	config  DrainConfig
	logger  *logrus.Logger

	tasks  chan string
	stopCh chan struct{}

	mu       sync.Mutex
	draining map[string]bool

	// IdleHook, when set, is called each time a recipient's drain completes
	// and the worker returns to Idle for them. Used by tests to observe
	// completion of the otherwise fire-and-forget drain.
	IdleHook func(recipientID string)
}

func NewDrainWorker(mailbox Mailbox, live LiveChannel, config DrainConfig, logger *logrus.Logger) *DrainWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = constants.DefaultDrainBatchSize
	}
	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = time.Duration(constants.DefaultDrainReceiveTimeoutMs) * time.Millisecond
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = constants.DefaultDrainWorkerPoolSize
	}

	return &DrainWorker{
		mailbox:  mailbox,
		live:     live,
		config:   config,
		logger:   logger,
		tasks:    make(chan string, drainTaskQueueSize),
		stopCh:   make(chan struct{}),
		draining: make(map[string]bool),
	}
}

// SetLiveChannel installs the delivery channel after construction. The hub
// and the worker reference each other, so one side has to be wired late. Must
// be called before Start.
func (w *DrainWorker) SetLiveChannel(live LiveChannel) {
	w.live = live
}

// Start launches the worker pool.
func (w *DrainWorker) Start(ctx context.Context) {
	for i := 0; i < w.config.WorkerPoolSize; i++ {
		go w.workerLoop(ctx)
	}
	w.logger.WithField("workers", w.config.WorkerPoolSize).Info("Backlog drain worker pool started")
}

// Stop terminates the worker pool. In-flight batches finish; queued tasks
// are abandoned.
func (w *DrainWorker) Stop() {
	close(w.stopCh)
}

// OnReconnect schedules a backlog drain for a recipient. It is
// fire-and-forget and never blocks the caller. A reconnect for a recipient
// who is already Draining is coalesced into the in-flight drain.
func (w *DrainWorker) OnReconnect(recipientID string) {
	if recipientID == "" {
		return
	}

	w.mu.Lock()
	if w.draining[recipientID] {
		w.mu.Unlock()
		return
	}
	w.draining[recipientID] = true
	w.mu.Unlock()

	w.submit(recipientID)
}

// submit hands a task to the pool without blocking. The recipient is already
// marked Draining; on overflow the mark is rolled back.
func (w *DrainWorker) submit(recipientID string) {
	select {
	case w.tasks <- recipientID:
	default:
		w.logger.WithField(LogFieldRecipient, SanitizeRecipientID(recipientID)).
			Warn("Drain task queue full, dropping drain request")
		w.setIdle(recipientID)
	}
}

func (w *DrainWorker) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case recipientID := <-w.tasks:
			w.drainOnce(ctx, recipientID)
		}
	}
}

// drainOnce processes a single batch for a recipient and either resubmits
// the task for the next batch or transitions back to Idle.
func (w *DrainWorker) drainOnce(ctx context.Context, recipientID string) {
	depth, err := w.mailbox.Depth(ctx, recipientID)
	if err != nil {
		apperrors.LogError(w.logger,
			apperrors.Wrap(err, apperrors.ErrCodeBrokerConsume, "mailbox depth check failed"),
			"Failed to check mailbox depth", logrus.Fields{
				LogFieldRecipient: SanitizeRecipientID(recipientID),
			})
		w.setIdle(recipientID)
		return
	}
	if depth == 0 {
		w.setIdle(recipientID)
		return
	}

	batch, err := w.mailbox.DrainBatch(ctx, recipientID, w.config.BatchSize, w.config.ReceiveTimeout)
	if err != nil {
		apperrors.LogError(w.logger,
			apperrors.Wrap(err, apperrors.ErrCodeBrokerConsume, "mailbox drain failed"),
			"Failed to drain mailbox batch", logrus.Fields{
				LogFieldRecipient: SanitizeRecipientID(recipientID),
			})
	}
	metrics.IncrementCounter("drain_batches_total", nil, "Drain batches processed")

	// Forward in original FIFO order. A failed push loses the entry for this
	// attempt: the batch was already acknowledged on retrieval.
	for _, env := range batch {
		if pushErr := w.live.Push(ctx, recipientID, env); pushErr != nil {
			metrics.IncrementCounter("drain_push_failures_total", nil, "Drained messages lost to push failures")
			apperrors.LogWarn(w.logger,
				apperrors.Wrap(pushErr, apperrors.ErrCodeLivePush, "drained message push failed"),
				"Failed to forward drained message", logrus.Fields{
					LogFieldRecipient: SanitizeRecipientID(recipientID),
					LogFieldMessageID: SanitizeMessageID(env.Message.ID),
				})
			continue
		}
		metrics.IncrementCounter("drained_messages_total", nil, "Drained messages forwarded live")
	}

	w.logger.WithFields(logrus.Fields{
		LogFieldRecipient: SanitizeRecipientID(recipientID),
		LogFieldBatchSize: len(batch),
		LogFieldDepth:     depth,
	}).Debug("Drained mailbox batch")

	// A full batch with more entries reported behind it means the backlog is
	// not exhausted: stay Draining and requeue for the next batch.
	if err == nil && len(batch) == w.config.BatchSize && depth > w.config.BatchSize {
		w.submit(recipientID)
		return
	}

	w.setIdle(recipientID)
}

func (w *DrainWorker) setIdle(recipientID string) {
	w.mu.Lock()
	delete(w.draining, recipientID)
	hook := w.IdleHook
	w.mu.Unlock()

	if hook != nil {
		hook(recipientID)
	}
}
