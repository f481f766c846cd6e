// Package models defines the domain types for Ansuz.
package models

// Role identifies which side of the conversation authored a message.
type Role string

// Message roles.
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is a binary blob carried alongside a user message.
// Data is raw bytes; it is base64-encoded on the wire and in storage.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Point is a layout coordinate on the conversation map.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Message is a single turn-fragment in the conversation graph.
//
// ParentID/ChildrenIDs form the primary ownership tree. Connections is a
// separate non-owning adjacency set of ids whose unique history is injected
// into this node's context at request time; it is never traversed for
// deletion or reparenting.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	ChildrenIDs []string     `json:"childrenIds"`
	Connections []string     `json:"connections,omitempty"`
	Timestamp   int64        `json:"timestamp"`
	// Summary is a short label attached asynchronously after creation.
	// Absence is valid at all times.
	Summary string `json:"summary,omitempty"`
	// AttachedTrackIDs records the leaf nodes merged as comparison context
	// when this user message was created. Provenance only, never mutated.
	AttachedTrackIDs []string `json:"attachedTrackIds,omitempty"`
	// Position is the last-known layout coordinate, written back by the
	// layout reconciler and drag interaction.
	Position *Point `json:"position,omitempty"`
}

// HasConnection reports whether sourceID is already in the connection set.
func (m *Message) HasConnection(sourceID string) bool {
	for _, id := range m.Connections {
		if id == sourceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.ChildrenIDs = append([]string(nil), m.ChildrenIDs...)
	c.Connections = append([]string(nil), m.Connections...)
	c.AttachedTrackIDs = append([]string(nil), m.AttachedTrackIDs...)
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Position != nil {
		p := *m.Position
		c.Position = &p
	}
	return &c
}
