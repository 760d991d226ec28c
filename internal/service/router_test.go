package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"carefeed/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testEnvelope(recipientID string) *models.DeliveryEnvelope {
	return &models.DeliveryEnvelope{
		Message: models.FeedbackMessage{
			ID:         "msg-001",
			ChatID:     "chat-1",
			SenderType: models.SenderPatient,
			SenderID:   "patient-1",
			Content:    "Thanks for the visit",
			ReadStatus: models.ReadStatusUnread,
			CreatedAt:  time.Now().UTC(),
		},
		RecipientID: recipientID,
		SenderName:  "Alex P.",
		DeliveredAt: time.Now().UTC(),
	}
}

func TestRouterRouteLiveDelivery(t *testing.T) {
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}
	unread := &mockUnreadCounter{}

	env := testEnvelope("provider-1")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(true)
	live.On("Push", mock.Anything, "provider-1", env).Return(nil)

	router := NewRouter(presence, live, mailbox, unread, newTestLogger())
	outcome, err := router.Route(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLiveDelivered, outcome)
	mailbox.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	unread.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouterRouteOfflineEnqueues(t *testing.T) {
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}
	unread := &mockUnreadCounter{}

	env := testEnvelope("provider-1")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(false)
	mailbox.On("Enqueue", mock.Anything, "provider-1", env).Return(nil)
	unread.On("Increment", mock.Anything, "provider-1", int64(1)).Return(nil)

	router := NewRouter(presence, live, mailbox, unread, newTestLogger())
	outcome, err := router.Route(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnqueued, outcome)
	live.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
	unread.AssertExpectations(t)
}

func TestRouterRoutePushFailureFallsBackToMailbox(t *testing.T) {
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}
	unread := &mockUnreadCounter{}

	env := testEnvelope("provider-1")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(true)
	live.On("Push", mock.Anything, "provider-1", env).Return(fmt.Errorf("socket closed"))
	mailbox.On("Enqueue", mock.Anything, "provider-1", env).Return(nil)
	unread.On("Increment", mock.Anything, "provider-1", int64(1)).Return(nil)

	router := NewRouter(presence, live, mailbox, unread, newTestLogger())
	outcome, err := router.Route(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnqueued, outcome)
	mailbox.AssertExpectations(t)
}

func TestRouterRouteEnqueueFailureDoesNotSurfaceToSender(t *testing.T) {
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}
	unread := &mockUnreadCounter{}

	env := testEnvelope("provider-1")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(false)
	mailbox.On("Enqueue", mock.Anything, "provider-1", env).Return(fmt.Errorf("broker unreachable"))

	router := NewRouter(presence, live, mailbox, unread, newTestLogger())
	outcome, err := router.Route(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnqueued, outcome)
	unread.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouterRouteCounterFailureIsNonFatal(t *testing.T) {
	presence := &mockPresence{}
	live := &mockLiveChannel{}
	mailbox := &mockMailbox{}
	unread := &mockUnreadCounter{}

	env := testEnvelope("provider-1")
	presence.On("IsOnline", mock.Anything, "provider-1").Return(false)
	mailbox.On("Enqueue", mock.Anything, "provider-1", env).Return(nil)
	unread.On("Increment", mock.Anything, "provider-1", int64(1)).Return(fmt.Errorf("redis down"))

	router := NewRouter(presence, live, mailbox, unread, newTestLogger())
	outcome, err := router.Route(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnqueued, outcome)
}

func TestRouterRouteRejectsMissingRecipient(t *testing.T) {
	router := NewRouter(&mockPresence{}, &mockLiveChannel{}, &mockMailbox{}, &mockUnreadCounter{}, newTestLogger())

	_, err := router.Route(context.Background(), nil)
	assert.Error(t, err)

	env := testEnvelope("")
	_, err = router.Route(context.Background(), env)
	assert.Error(t, err)
}
