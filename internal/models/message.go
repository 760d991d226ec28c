package models

import (
	"time"
)

type SenderType string

const (
	SenderPatient  SenderType = "patient"
	SenderProvider SenderType = "provider"
)

type ReadStatus string

const (
	ReadStatusUnread ReadStatus = "unread"
	ReadStatusRead   ReadStatus = "read"
)

// FeedbackMessage is the durable record of one post-visit feedback message.
// Immutable after creation except ReadStatus, which transitions
// unread -> read exactly once.
type FeedbackMessage struct {
	ID         string     `db:"id"`
	ChatID     string     `db:"chat_id"`
	SenderType SenderType `db:"sender_type"`
	SenderID   string     `db:"sender_id"`
	Content    string     `db:"content"`
	ReadStatus ReadStatus `db:"read_status"`
	CreatedAt  time.Time  `db:"created_at"`
}

// DeliveryEnvelope wraps a FeedbackMessage with resolved delivery metadata.
// It is constructed fresh per delivery attempt and never persisted.
type DeliveryEnvelope struct {
	Message       FeedbackMessage `json:"message"`
	RecipientID   string          `json:"recipientId"`
	SenderName    string          `json:"senderName"`
	RecipientName string          `json:"recipientName"`
	DeliveredAt   time.Time       `json:"deliveredAt"`
}

// DeliveryOutcome reports which path the router chose for an envelope.
type DeliveryOutcome string

const (
	OutcomeLiveDelivered DeliveryOutcome = "live_delivered"
	OutcomeEnqueued      DeliveryOutcome = "enqueued"
)

// LivePayload is the wire format pushed to a recipient's live topic.
type LivePayload struct {
	Type    string          `json:"type"`
	Message LiveMessageBody `json:"message"`
}

type LiveMessageBody struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chatId"`
	Content    string     `json:"content"`
	Sender     string     `json:"sender"`
	SenderName string     `json:"senderName"`
	SenderType SenderType `json:"senderType"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewLivePayload builds the push payload for an envelope.
func NewLivePayload(env *DeliveryEnvelope) LivePayload {
	return LivePayload{
		Type: "message",
		Message: LiveMessageBody{
			ID:         env.Message.ID,
			ChatID:     env.Message.ChatID,
			Content:    env.Message.Content,
			Sender:     env.Message.SenderID,
			SenderName: env.SenderName,
			SenderType: env.Message.SenderType,
			Timestamp:  env.Message.CreatedAt,
		},
	}
}
