package service

import (
	"context"
	"fmt"
	"time"

	apperrors "carefeed/internal/errors"
	"carefeed/internal/models"

	"github.com/sirupsen/logrus"
)

// Store is the persistent FeedbackMessage collaborator.
type Store interface {
	SaveFeedbackMessage(ctx context.Context, msg *models.FeedbackMessage) error
	GetFeedbackMessage(ctx context.Context, id string) (*models.FeedbackMessage, error)
	GetThreadMessages(ctx context.Context, chatID string) ([]*models.FeedbackMessage, error)
	MarkRead(ctx context.Context, id string) (bool, error)
	MarkAllRead(ctx context.Context, chatID, recipientID string) (int64, error)
}

// Directory resolves participant display names for envelopes.
type Directory interface {
	DisplayName(ctx context.Context, userID string) string
}

// SendRequest carries one outbound feedback message.
type SendRequest struct {
	ChatID      string            `json:"chatId"`
	SenderID    string            `json:"senderId"`
	SenderType  models.SenderType `json:"senderType"`
	RecipientID string            `json:"recipientId"`
	Content     string            `json:"content"`
}

// FeedbackService owns the sending flow (persist, wrap, route) and the
// read-state mutations that keep the unread counter in step.
type FeedbackService interface {
	SendFeedback(ctx context.Context, req *SendRequest) (*models.FeedbackMessage, models.DeliveryOutcome, error)
	GetThread(ctx context.Context, chatID string) ([]*models.FeedbackMessage, error)
	MarkRead(ctx context.Context, messageID, recipientID string) error
	MarkAllRead(ctx context.Context, chatID, recipientID string) error
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
}

type feedbackService struct {
	store     Store
	router    *Router
	directory Directory
	unread    UnreadCounter
	logger    *logrus.Logger
}

func NewFeedbackService(store Store, router *Router, directory Directory, unread UnreadCounter, logger *logrus.Logger) FeedbackService {
	return &feedbackService{
		store:     store,
		router:    router,
		directory: directory,
		unread:    unread,
		logger:    logger,
	}
}

// SendFeedback persists the message, builds a fresh delivery envelope, and
// routes it. Once a path has been chosen the sender sees success; transport
// and broker trouble stays inside the router.
func (s *feedbackService) SendFeedback(ctx context.Context, req *SendRequest) (*models.FeedbackMessage, models.DeliveryOutcome, error) {
	if err := validateSendRequest(req); err != nil {
		return nil, "", err
	}

	msg := &models.FeedbackMessage{
		ChatID:     req.ChatID,
		SenderType: req.SenderType,
		SenderID:   req.SenderID,
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.SaveFeedbackMessage(ctx, msg); err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to persist feedback message")
	}

	env := &models.DeliveryEnvelope{
		Message:       *msg,
		RecipientID:   req.RecipientID,
		SenderName:    s.directory.DisplayName(ctx, req.SenderID),
		RecipientName: s.directory.DisplayName(ctx, req.RecipientID),
		DeliveredAt:   time.Now().UTC(),
	}

	outcome, err := s.router.Route(ctx, env)
	if err != nil {
		return nil, "", err
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldMessageID: SanitizeMessageID(msg.ID),
		LogFieldChatID:    msg.ChatID,
		LogFieldRecipient: SanitizeRecipientID(req.RecipientID),
		"outcome":         outcome,
	}).Info("Feedback message routed")

	return msg, outcome, nil
}

func (s *feedbackService) GetThread(ctx context.Context, chatID string) ([]*models.FeedbackMessage, error) {
	if chatID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "chat ID is required")
	}
	return s.store.GetThreadMessages(ctx, chatID)
}

// MarkRead transitions a message to read. The unread counter is decremented
// only when a row actually transitioned, so repeated calls stay idempotent.
func (s *feedbackService) MarkRead(ctx context.Context, messageID, recipientID string) error {
	if messageID == "" || recipientID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "message ID and recipient ID are required")
	}

	transitioned, err := s.store.MarkRead(ctx, messageID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to mark message read")
	}
	if !transitioned {
		return nil
	}

	if err := s.unread.Decrement(ctx, recipientID, 1); err != nil {
		apperrors.LogWarn(s.logger,
			apperrors.Wrap(err, apperrors.ErrCodeCounterStore, "unread counter decrement failed"),
			"Failed to decrement unread counter", logrus.Fields{
				LogFieldRecipient: SanitizeRecipientID(recipientID),
			})
	}
	return nil
}

// MarkAllRead transitions every unread message addressed to the recipient in
// a thread and resets their badge counter.
func (s *feedbackService) MarkAllRead(ctx context.Context, chatID, recipientID string) error {
	if chatID == "" || recipientID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "chat ID and recipient ID are required")
	}

	transitioned, err := s.store.MarkAllRead(ctx, chatID, recipientID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to mark thread read")
	}

	if err := s.unread.Reset(ctx, recipientID); err != nil {
		apperrors.LogWarn(s.logger,
			apperrors.Wrap(err, apperrors.ErrCodeCounterStore, "unread counter reset failed"),
			"Failed to reset unread counter", logrus.Fields{
				LogFieldRecipient: SanitizeRecipientID(recipientID),
			})
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldChatID:    chatID,
		LogFieldRecipient: SanitizeRecipientID(recipientID),
		"transitioned":    transitioned,
	}).Debug("Marked thread read")

	return nil
}

func (s *feedbackService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	if recipientID == "" {
		return 0, apperrors.New(apperrors.ErrCodeInvalidInput, "recipient ID is required")
	}
	return s.unread.Read(ctx, recipientID)
}

func validateSendRequest(req *SendRequest) error {
	if req == nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "request is required")
	}
	if req.ChatID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "chat ID is required")
	}
	if req.SenderID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "sender ID is required")
	}
	if req.RecipientID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "recipient ID is required")
	}
	if req.Content == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "content is required")
	}
	if req.SenderType != models.SenderPatient && req.SenderType != models.SenderProvider {
		return apperrors.New(apperrors.ErrCodeValidationFailed,
			fmt.Sprintf("invalid sender type: %s", req.SenderType))
	}
	return nil
}
