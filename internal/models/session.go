package models

// Session is one conversation graph: a flat message map plus the root and
// head pointers. The map is the sole source of truth; every message
// reachable from it is owned exclusively by this session.
type Session struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	RootMessageID string              `json:"rootMessageId,omitempty"`
	MessageMap    map[string]*Message `json:"messageMap"`
	CurrentHeadID string              `json:"currentHeadId,omitempty"`
	LastModified  int64               `json:"lastModified"`
}

// NewSession returns an empty session with no root. It becomes non-empty on
// the first sent message.
func NewSession(id string) *Session {
	return &Session{
		ID:         id,
		Title:      "New Exploration",
		MessageMap: make(map[string]*Message),
	}
}

// Clone returns a deep copy of the session. Mutations operate copy-on-write:
// each one clones the current snapshot, edits the clone, and publishes it,
// so readers always observe a consistent graph.
func (s *Session) Clone() *Session {
	c := *s
	c.MessageMap = make(map[string]*Message, len(s.MessageMap))
	for id, m := range s.MessageMap {
		c.MessageMap[id] = m.Clone()
	}
	return &c
}

// Message returns the message with the given id, or nil when it is absent
// (including the empty id).
func (s *Session) Message(id string) *Message {
	if id == "" {
		return nil
	}
	return s.MessageMap[id]
}
