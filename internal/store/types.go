package store

// Message is one mirrored conversation message. Times are unix milliseconds;
// ReadAt is zero while unread.
type Message struct {
	CaseID      string
	MsgID       string
	SenderID    string
	SenderName  string
	SenderRole  string
	RecipientID string
	Content     string
	Attachments []string
	ReadAt      int64
	CreatedAt   int64
}

// Cursor is a keyset position in a case transcript. Rows strictly older than
// (CreatedAt, MsgID) follow it. An empty MsgID means "before CreatedAt".
type Cursor struct {
	CreatedAt int64
	MsgID     string
}

// IsZero reports whether c starts from the newest message.
func (c Cursor) IsZero() bool { return c.CreatedAt == 0 && c.MsgID == "" }

// CursorOf returns the position just past m.
func CursorOf(m *Message) Cursor { return Cursor{CreatedAt: m.CreatedAt, MsgID: m.MsgID} }
