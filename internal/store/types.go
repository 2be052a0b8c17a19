package store

// Conversation is an archived conversation snapshot row.
type Conversation struct {
	ID              string
	ContactName     string
	ContactPhone    string
	Status          string
	AssigneeID      string
	LastMessage     string
	LastMessageType string
	UnreadCount     int
	UpdatedAt       int64
}

// Message is an archived confirmed message row. Pending messages are
// never archived; only server-acknowledged traffic lands here.
type Message struct {
	RowID          int64
	ConversationID string
	MsgID          string
	FromMe         bool
	Body           string
	MessageType    string
	Delivered      bool
	Read           bool
	IsSystem       bool
	MediaURL       string
	MediaMimetype  string
	CreatedAt      int64
}

// SearchResult holds a message with a match snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
