package model

import "time"

// Status is a conversation lifecycle state. Transitions are
// server-authoritative; the client only requests them.
type Status string

const (
	StatusAwaiting   Status = "awaiting"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaiting, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// MessageType classifies a message body.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
)

// Conversation is one WhatsApp thread as the CRM backend sees it.
type Conversation struct {
	ID              string      `json:"id"`
	ContactName     string      `json:"contact_name"`
	ContactPhone    string      `json:"contact_phone"`
	ContactPhotoURL string      `json:"contact_photo_url,omitempty"`
	Status          Status      `json:"status"`
	AssigneeID      string      `json:"assignee_id,omitempty"`
	LastMessage     string      `json:"last_message,omitempty"`
	LastMessageType MessageType `json:"last_message_type,omitempty"`
	UnreadCount     int         `json:"unread_count"`
	TagIDs          []string    `json:"tag_ids,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// MediaRef points at fetchable media bytes. Absent until the server
// has persisted the upload.
type MediaRef struct {
	Mimetype string `json:"mimetype"`
	URL      string `json:"url"`
}

// Message is a single entry in a conversation thread.
//
// A message created locally at send time carries a generated ClientID
// and an empty ID; the server copy that eventually replaces it carries
// the durable ID. Merge logic keys on ID, never on id-prefix sniffing.
type Message struct {
	ID             string      `json:"id,omitempty"`
	ClientID       string      `json:"client_id,omitempty"`
	ConversationID string      `json:"conversation_id"`
	FromMe         bool        `json:"from_me"`
	Body           string      `json:"body"`
	Type           MessageType `json:"message_type"`
	Sent           bool        `json:"sent"`
	Delivered      bool        `json:"delivered"`
	Read           bool        `json:"read"`
	IsSystem       bool        `json:"is_system,omitempty"`
	Media          *MediaRef   `json:"media,omitempty"`
	Reaction       string      `json:"reaction,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`

	// Decoded is the structured payload extracted from Body when the
	// message entered the client. Never sent by the server.
	Decoded *DecodedBody `json:"decoded,omitempty"`
}

// Decode attaches the structured payload parse of Body. Called once
// at the ingestion boundary.
func (m *Message) Decode() {
	d := DecodeBody(m.Body)
	m.Decoded = &d
}

// Pending reports whether the message has not yet been acknowledged
// by the server.
func (m *Message) Pending() bool {
	return m.ID == ""
}

// Tag is a label attachable to conversations.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Agent is a handler that conversations can be assigned to.
type Agent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PushEvent is the normalized form of a push-channel frame.
type PushEvent struct {
	ConversationID string `json:"conversation_id"`
}
