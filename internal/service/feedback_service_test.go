package service

import (
	"context"
	"fmt"
	"testing"

	"carefeed/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestFeedbackService(store *mockStore, dir *mockDirectory, unread *mockUnreadCounter, presence *mockPresence, live *mockLiveChannel, mailbox *mockMailbox) FeedbackService {
	logger := newTestLogger()
	router := NewRouter(presence, live, mailbox, unread, logger)
	return NewFeedbackService(store, router, dir, unread, logger)
}

func validSendRequest() *SendRequest {
	return &SendRequest{
		ChatID:      "chat-1",
		SenderID:    "patient-1",
		SenderType:  models.SenderPatient,
		RecipientID: "provider-1",
		Content:     "Feeling much better after the new prescription",
	}
}

func TestSendFeedbackPersistsAndRoutesLive(t *testing.T) {
	store := &mockStore{}
	dir := &mockDirectory{}
	unread := &mockUnreadCounter{}
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}

	store.On("SaveFeedbackMessage", mock.Anything, mock.Anything).Return(nil)
	dir.On("DisplayName", mock.Anything, "patient-1").Return("Alex P.")
	dir.On("DisplayName", mock.Anything, "provider-1").Return("Dr. Kim")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(true)
	live.On("Push", mock.Anything, "provider-1", mock.MatchedBy(func(env *models.DeliveryEnvelope) bool {
		return env.SenderName == "Alex P." && env.RecipientName == "Dr. Kim" && env.Message.ChatID == "chat-1"
	})).Return(nil)

	svc := newTestFeedbackService(store, dir, unread, presence, live, mailbox)
	msg, outcome, err := svc.SendFeedback(context.Background(), validSendRequest())

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLiveDelivered, outcome)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.ReadStatusUnread, msg.ReadStatus)
	store.AssertExpectations(t)
	live.AssertExpectations(t)
}

func TestSendFeedbackOfflineRecipientEnqueues(t *testing.T) {
	store := &mockStore{}
	dir := &mockDirectory{}
	unread := &mockUnreadCounter{}
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}

	store.On("SaveFeedbackMessage", mock.Anything, mock.Anything).Return(nil)
	dir.On("DisplayName", mock.Anything, mock.Anything).Return("someone")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(false)
	mailbox.On("Enqueue", mock.Anything, "provider-1", mock.Anything).Return(nil)
	unread.On("Increment", mock.Anything, "provider-1", int64(1)).Return(nil)

	svc := newTestFeedbackService(store, dir, unread, presence, live, mailbox)
	_, outcome, err := svc.SendFeedback(context.Background(), validSendRequest())

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnqueued, outcome)
	unread.AssertExpectations(t)
}

func TestSendFeedbackPersistFailureStopsDelivery(t *testing.T) {
	store := &mockStore{}
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}

	store.On("SaveFeedbackMessage", mock.Anything, mock.Anything).Return(fmt.Errorf("disk full"))

	svc := newTestFeedbackService(store, &mockDirectory{}, &mockUnreadCounter{}, presence, live, mailbox)
	_, _, err := svc.SendFeedback(context.Background(), validSendRequest())

	require.Error(t, err)
	presence.AssertNotCalled(t, "IsOnline", mock.Anything, mock.Anything)
}

func TestSendFeedbackValidation(t *testing.T) {
	svc := newTestFeedbackService(&mockStore{}, &mockDirectory{}, &mockUnreadCounter{}, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})

	tests := []struct {
		name   string
		mutate func(*SendRequest)
	}{
		{"missing chat ID", func(r *SendRequest) { r.ChatID = "" }},
		{"missing sender ID", func(r *SendRequest) { r.SenderID = "" }},
		{"missing recipient ID", func(r *SendRequest) { r.RecipientID = "" }},
		{"empty content", func(r *SendRequest) { r.Content = "" }},
		{"unknown sender type", func(r *SendRequest) { r.SenderType = "bot" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSendRequest()
			tt.mutate(req)
			_, _, err := svc.SendFeedback(context.Background(), req)
			assert.Error(t, err)
		})
	}

	_, _, err := svc.SendFeedback(context.Background(), nil)
	assert.Error(t, err)
}

func TestMarkReadDecrementsOnlyOnTransition(t *testing.T) {
	store := &mockStore{}
	unread := &mockUnreadCounter{}

	store.On("MarkRead", mock.Anything, "msg-001").Return(true, nil).Once()
	unread.On("Decrement", mock.Anything, "provider-1", int64(1)).Return(nil).Once()

	svc := newTestFeedbackService(store, &mockDirectory{}, unread, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})
	require.NoError(t, svc.MarkRead(context.Background(), "msg-001", "provider-1"))

	// Second call finds the row already read and must not decrement again.
	store.On("MarkRead", mock.Anything, "msg-001").Return(false, nil).Once()
	require.NoError(t, svc.MarkRead(context.Background(), "msg-001", "provider-1"))

	store.AssertExpectations(t)
	unread.AssertExpectations(t)
	unread.AssertNumberOfCalls(t, "Decrement", 1)
}

func TestMarkReadCounterFailureIsNonFatal(t *testing.T) {
	store := &mockStore{}
	unread := &mockUnreadCounter{}

	store.On("MarkRead", mock.Anything, "msg-001").Return(true, nil)
	unread.On("Decrement", mock.Anything, "provider-1", int64(1)).Return(fmt.Errorf("redis down"))

	svc := newTestFeedbackService(store, &mockDirectory{}, unread, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})
	assert.NoError(t, svc.MarkRead(context.Background(), "msg-001", "provider-1"))
}

func TestMarkAllReadResetsCounter(t *testing.T) {
	store := &mockStore{}
	unread := &mockUnreadCounter{}

	store.On("MarkAllRead", mock.Anything, "chat-1", "provider-1").Return(int64(7), nil)
	unread.On("Reset", mock.Anything, "provider-1").Return(nil)

	svc := newTestFeedbackService(store, &mockDirectory{}, unread, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})
	require.NoError(t, svc.MarkAllRead(context.Background(), "chat-1", "provider-1"))

	store.AssertExpectations(t)
	unread.AssertExpectations(t)
}

func TestMarkAllReadRequiresIdentifiers(t *testing.T) {
	svc := newTestFeedbackService(&mockStore{}, &mockDirectory{}, &mockUnreadCounter{}, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})

	assert.Error(t, svc.MarkAllRead(context.Background(), "", "provider-1"))
	assert.Error(t, svc.MarkAllRead(context.Background(), "chat-1", ""))
}

func TestUnreadCount(t *testing.T) {
	unread := &mockUnreadCounter{}
	unread.On("Read", mock.Anything, "provider-1").Return(int64(4), nil)

	svc := newTestFeedbackService(&mockStore{}, &mockDirectory{}, unread, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})

	count, err := svc.UnreadCount(context.Background(), "provider-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	_, err = svc.UnreadCount(context.Background(), "")
	assert.Error(t, err)
}

func TestGetThread(t *testing.T) {
	store := &mockStore{}
	msgs := []*models.FeedbackMessage{{ID: "msg-001"}, {ID: "msg-002"}}
	store.On("GetThreadMessages", mock.Anything, "chat-1").Return(msgs, nil)

	svc := newTestFeedbackService(store, &mockDirectory{}, &mockUnreadCounter{}, &mockPresence{}, &mockLiveChannel{}, &mockMailbox{})

	got, err := svc.GetThread(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.GetThread(context.Background(), "")
	assert.Error(t, err)
}
