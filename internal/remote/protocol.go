package remote

import "github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"

// Wire operation names for the backend's JSON frame protocol.
const (
	opGetConversation    = "conversation.get"
	opQueryConversations = "conversation.query"
	opCreateConversation = "conversation.create"
	opSetDisplayName     = "conversation.set_display_name"
	opAppendMessage      = "message.append"
	opListMessages       = "message.list"
	opSetMessageStatus   = "message.set_status"
	opResetUnread        = "unread.reset"
	opResetUnreadBatch   = "unread.reset_batch"
	opSubscribe          = "subscription.open"
	opUnsubscribe        = "subscription.close"
)

// Wire error codes, mapped onto the package sentinels.
const (
	codeNotFound         = "not_found"
	codePermissionDenied = "permission_denied"
	codeUnavailable      = "unavailable"
	codeExists           = "already_exists"
)

// request is a client-to-server frame. Fields are populated per op.
type request struct {
	ID             int64              `json:"id"`
	Op             string             `json:"op"`
	ConversationID string             `json:"conversationId,omitempty"`
	Participant    string             `json:"participant,omitempty"`
	ViewerKey      string             `json:"viewerKey,omitempty"`
	RecipientKey   string             `json:"recipientKey,omitempty"`
	DisplayName    string             `json:"displayName,omitempty"`
	MessageID      string             `json:"messageId,omitempty"`
	Status         string             `json:"status,omitempty"`
	Resets         map[string]string  `json:"resets,omitempty"`
	SubID          string             `json:"subId,omitempty"`
	Conversation   *chat.Conversation `json:"conversation,omitempty"`
	Message        *chat.Message      `json:"message,omitempty"`
}

// response is a server-to-client frame. A frame with SubID and no ID is a
// live subscription event.
type response struct {
	ID            int64               `json:"id,omitempty"`
	SubID         string              `json:"subId,omitempty"`
	ErrorCode     string              `json:"errorCode,omitempty"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
	Conversation  *chat.Conversation  `json:"conversation,omitempty"`
	Conversations []chat.Conversation `json:"conversations,omitempty"`
	Messages      []chat.Message      `json:"messages,omitempty"`
	Message       *chat.Message       `json:"message,omitempty"`
}

func codeToError(code string) error {
	switch code {
	case "":
		return nil
	case codeNotFound:
		return ErrNotFound
	case codePermissionDenied:
		return ErrPermissionDenied
	case codeExists:
		return ErrExists
	default:
		return ErrUnavailable
	}
}
