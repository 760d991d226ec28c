package service

import (
	"carefeed/internal/constants"
)

// Shared structured log field names
const (
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
	LogFieldMethod    = "method"
	LogFieldURL       = "url"
	LogFieldRemoteIP  = "remote_ip"
	LogFieldUserAgent = "user_agent"
	LogFieldRecipient = "recipient"
	LogFieldMessageID = "message_id"
	LogFieldChatID    = "chat_id"
	LogFieldBatchSize = "batch_size"
	LogFieldDepth     = "depth"
)

// SanitizeRecipientID masks a recipient identity for logs, keeping only the
// trailing digits needed to correlate events.
func SanitizeRecipientID(recipientID string) string {
	if recipientID == "" {
		return ""
	}
	if len(recipientID) > constants.DefaultRecipientMaskLength {
		return "***" + recipientID[len(recipientID)-constants.DefaultRecipientMaskLength:]
	}
	return "***"
}

// SanitizeMessageID shortens a message ID for logs.
func SanitizeMessageID(msgID string) string {
	if msgID == "" {
		return ""
	}
	if len(msgID) > constants.DefaultMessageIDLength {
		return msgID[:constants.DefaultMessageIDLength] + "..."
	}
	return msgID
}
