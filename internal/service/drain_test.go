package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"carefeed/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func makeBacklog(n int, offset int) []*models.DeliveryEnvelope {
	batch := make([]*models.DeliveryEnvelope, n)
	for i := 0; i < n; i++ {
		env := testEnvelope("provider-1")
		env.Message.ID = fmt.Sprintf("msg-%03d", offset+i)
		batch[i] = env
	}
	return batch
}

func waitForIdle(t *testing.T, idleCh <-chan string) {
	t.Helper()
	select {
	case <-idleCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain to complete")
	}
}

func TestDrainWorkerDrainsBacklogInBatches(t *testing.T) {
	mailbox := &mockMailbox{}
	live := &mockLiveChannel{}

	firstBatch := makeBacklog(20, 0)
	secondBatch := makeBacklog(5, 20)

	mailbox.On("Depth", mock.Anything, "provider-1").Return(25, nil).Once()
	mailbox.On("DrainBatch", mock.Anything, "provider-1", 20, 50*time.Millisecond).Return(firstBatch, nil).Once()
	mailbox.On("Depth", mock.Anything, "provider-1").Return(5, nil).Once()
	mailbox.On("DrainBatch", mock.Anything, "provider-1", 20, 50*time.Millisecond).Return(secondBatch, nil).Once()
	live.On("Push", mock.Anything, "provider-1", mock.Anything).Return(nil)

	worker := NewDrainWorker(mailbox, live, DrainConfig{
		BatchSize:      20,
		ReceiveTimeout: 50 * time.Millisecond,
		WorkerPoolSize: 1,
	}, newTestLogger())

	idleCh := make(chan string, 1)
	worker.IdleHook = func(recipientID string) { idleCh <- recipientID }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.OnReconnect("provider-1")
	waitForIdle(t, idleCh)

	mailbox.AssertExpectations(t)

	pushed := live.pushedEnvelopes()
	require.Len(t, pushed, 25)
	for i, env := range pushed {
		assert.Equal(t, fmt.Sprintf("msg-%03d", i), env.Message.ID)
	}
}

func TestDrainWorkerEmptyMailboxSkipsDrain(t *testing.T) {
	mailbox := &mockMailbox{}
	live := &mockLiveChannel{}

	mailbox.On("Depth", mock.Anything, "provider-1").Return(0, nil).Once()

	worker := NewDrainWorker(mailbox, live, DrainConfig{WorkerPoolSize: 1}, newTestLogger())
	idleCh := make(chan string, 1)
	worker.IdleHook = func(recipientID string) { idleCh <- recipientID }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.OnReconnect("provider-1")
	waitForIdle(t, idleCh)

	mailbox.AssertNotCalled(t, "DrainBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDrainWorkerCoalescesConcurrentReconnects(t *testing.T) {
	mailbox := &mockMailbox{}
	live := &mockLiveChannel{}

	mailbox.On("Depth", mock.Anything, "provider-1").Return(1, nil).Once()
	mailbox.On("DrainBatch", mock.Anything, "provider-1", 20, 50*time.Millisecond).
		Return(makeBacklog(1, 0), nil).Once()
	live.On("Push", mock.Anything, "provider-1", mock.Anything).Return(nil)

	worker := NewDrainWorker(mailbox, live, DrainConfig{
		BatchSize:      20,
		ReceiveTimeout: 50 * time.Millisecond,
		WorkerPoolSize: 1,
	}, newTestLogger())

	idleCh := make(chan string, 4)
	worker.IdleHook = func(recipientID string) { idleCh <- recipientID }

	// Pool is not started yet, so the first reconnect parks a task and marks
	// the recipient Draining. The following reconnects must coalesce into it.
	worker.OnReconnect("provider-1")
	worker.OnReconnect("provider-1")
	worker.OnReconnect("provider-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	waitForIdle(t, idleCh)

	mailbox.AssertExpectations(t)
	assert.Len(t, live.pushedEnvelopes(), 1)
}

func TestDrainWorkerDepthFailureReturnsToIdle(t *testing.T) {
	mailbox := &mockMailbox{}
	live := &mockLiveChannel{}

	mailbox.On("Depth", mock.Anything, "provider-1").Return(0, fmt.Errorf("channel closed")).Once()

	worker := NewDrainWorker(mailbox, live, DrainConfig{WorkerPoolSize: 1}, newTestLogger())
	idleCh := make(chan string, 1)
	worker.IdleHook = func(recipientID string) { idleCh <- recipientID }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.OnReconnect("provider-1")
	waitForIdle(t, idleCh)

	// A later reconnect must be able to schedule a fresh drain.
	mailbox.On("Depth", mock.Anything, "provider-1").Return(0, nil).Once()
	worker.OnReconnect("provider-1")
	waitForIdle(t, idleCh)

	mailbox.AssertExpectations(t)
}

func TestDrainWorkerPushFailureContinuesBatch(t *testing.T) {
	mailbox := &mockMailbox{}
	live := &mockLiveChannel{}

	batch := makeBacklog(3, 0)
	mailbox.On("Depth", mock.Anything, "provider-1").Return(3, nil).Once()
	mailbox.On("DrainBatch", mock.Anything, "provider-1", 20, 50*time.Millisecond).Return(batch, nil).Once()

	live.On("Push", mock.Anything, "provider-1", batch[0]).Return(nil)
	live.On("Push", mock.Anything, "provider-1", batch[1]).Return(fmt.Errorf("write timeout"))
	live.On("Push", mock.Anything, "provider-1", batch[2]).Return(nil)

	worker := NewDrainWorker(mailbox, live, DrainConfig{
		BatchSize:      20,
		ReceiveTimeout: 50 * time.Millisecond,
		WorkerPoolSize: 1,
	}, newTestLogger())

	idleCh := make(chan string, 1)
	worker.IdleHook = func(recipientID string) { idleCh <- recipientID }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.OnReconnect("provider-1")
	waitForIdle(t, idleCh)

	live.AssertExpectations(t)
	pushed := live.pushedEnvelopes()
	assert.Len(t, pushed, 2)
}

func TestDrainWorkerIgnoresEmptyRecipient(t *testing.T) {
	worker := NewDrainWorker(&mockMailbox{}, &mockLiveChannel{}, DrainConfig{}, newTestLogger())
	worker.OnReconnect("")
	assert.Empty(t, worker.draining)
}
