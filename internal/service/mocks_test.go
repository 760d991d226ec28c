package service

import (
	"context"
	"sync"
	"time"

	"carefeed/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockLiveChannel struct {
	mock.Mock

	mu     sync.Mutex
	pushed []*models.DeliveryEnvelope
}

func (m *mockLiveChannel) Push(ctx context.Context, recipientID string, env *models.DeliveryEnvelope) error {
	args := m.Called(ctx, recipientID, env)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.pushed = append(m.pushed, env)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *mockLiveChannel) pushedEnvelopes() []*models.DeliveryEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.DeliveryEnvelope, len(m.pushed))
	copy(out, m.pushed)
	return out
}

type mockMailbox struct {
	mock.Mock
}

func (m *mockMailbox) Enqueue(ctx context.Context, recipientID string, env *models.DeliveryEnvelope) error {
	args := m.Called(ctx, recipientID, env)
	return args.Error(0)
}

func (m *mockMailbox) DrainBatch(ctx context.Context, recipientID string, maxCount int, perItemTimeout time.Duration) ([]*models.DeliveryEnvelope, error) {
	args := m.Called(ctx, recipientID, maxCount, perItemTimeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DeliveryEnvelope), args.Error(1)
}

func (m *mockMailbox) Depth(ctx context.Context, recipientID string) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) IsOnline(ctx context.Context, recipientID string) bool {
	args := m.Called(ctx, recipientID)
	return args.Bool(0)
}

type mockUnreadCounter struct {
	mock.Mock
}

func (m *mockUnreadCounter) Increment(ctx context.Context, recipientID string, delta int64) error {
	args := m.Called(ctx, recipientID, delta)
	return args.Error(0)
}

func (m *mockUnreadCounter) Decrement(ctx context.Context, recipientID string, delta int64) error {
	args := m.Called(ctx, recipientID, delta)
	return args.Error(0)
}

func (m *mockUnreadCounter) Read(ctx context.Context, recipientID string) (int64, error) {
	args := m.Called(ctx, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUnreadCounter) Reset(ctx context.Context, recipientID string) error {
	args := m.Called(ctx, recipientID)
	return args.Error(0)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveFeedbackMessage(ctx context.Context, msg *models.FeedbackMessage) error {
	args := m.Called(ctx, msg)
	if args.Error(0) == nil && msg.ID == "" {
		msg.ID = "generated-id"
	}
	return args.Error(0)
}

func (m *mockStore) GetFeedbackMessage(ctx context.Context, id string) (*models.FeedbackMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FeedbackMessage), args.Error(1)
}

func (m *mockStore) GetThreadMessages(ctx context.Context, chatID string) ([]*models.FeedbackMessage, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.FeedbackMessage), args.Error(1)
}

func (m *mockStore) MarkRead(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkAllRead(ctx context.Context, chatID, recipientID string) (int64, error) {
	args := m.Called(ctx, chatID, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) DisplayName(ctx context.Context, userID string) string {
	args := m.Called(ctx, userID)
	return args.String(0)
}
