// Package engine implements the mutation operations over a session's
// message graph. Every operation is copy-on-write: it clones the current
// snapshot, edits the clone, and returns it, or returns the input unchanged
// on rejection. No operation may leave the parent/child symmetry violated.
package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/layout"
	"github.com/starford/ansuz/internal/models"
)

const titleMax = 30

// Overridable in tests for deterministic ids and timestamps.
var (
	newID = uuid.NewString
	now   = func() int64 { return time.Now().UnixMilli() }
)

// TurnIDs identifies the user/model pair created by an append or edit.
type TurnIDs struct {
	UserID  string
	ModelID string
}

// AppendTurn creates a user message and an initially empty model message as
// its sole child, linked as a new last child of parentID (or established as
// the session root when the session is still empty). The head moves to the
// new model message. trackIDs, when given, are recorded on the user message
// as provenance only; the comparison context they imply is assembled by the
// caller for the outgoing request and never stored.
func AppendTurn(s *models.Session, parentID, userText string, attachments []models.Attachment, trackIDs []string) (*models.Session, TurnIDs, error) {
	if parentID != "" && s.Message(parentID) == nil {
		return s, TurnIDs{}, apperr.ErrNotFound
	}

	c := s.Clone()
	ts := now()

	pos := layout.PlaceNewChild(parentID, c.MessageMap, nil)
	userMsg := &models.Message{
		ID:               newID(),
		Role:             models.RoleUser,
		Content:          userText,
		Attachments:      append([]models.Attachment(nil), attachments...),
		ParentID:         parentID,
		Timestamp:        ts,
		AttachedTrackIDs: append([]string(nil), trackIDs...),
		Position:         &models.Point{X: pos.X, Y: pos.Y},
	}
	modelMsg := &models.Message{
		ID:        newID(),
		Role:      models.RoleModel,
		ParentID:  userMsg.ID,
		Timestamp: ts + 1,
		Position:  &models.Point{X: pos.X, Y: pos.Y},
	}
	userMsg.ChildrenIDs = []string{modelMsg.ID}

	c.MessageMap[userMsg.ID] = userMsg
	c.MessageMap[modelMsg.ID] = modelMsg

	if parentID != "" {
		parent := c.MessageMap[parentID]
		parent.ChildrenIDs = append(parent.ChildrenIDs, userMsg.ID)
	}

	if c.RootMessageID == "" {
		c.RootMessageID = userMsg.ID
		c.Title = deriveTitle(userText, attachments)
	}
	c.CurrentHeadID = modelMsg.ID
	c.LastModified = now()

	return c, TurnIDs{UserID: userMsg.ID, ModelID: modelMsg.ID}, nil
}

// EditReplace replaces the turn owning targetID with a fresh user/model pair
// carrying newText. The old user message and its entire descendant subtree
// are removed from the map; attachments and connections of the replaced user
// message carry over to its successor. Destructive by design: the old branch
// never existed.
func EditReplace(s *models.Session, targetID, newText string) (*models.Session, TurnIDs, error) {
	userID := owningUserID(s, targetID)
	if userID == "" {
		return s, TurnIDs{}, apperr.ErrNotFound
	}

	c := s.Clone()
	old := c.MessageMap[userID]
	parentID := old.ParentID

	// Remove the whole branch rooted at the old user message.
	for _, id := range collectSubtree(userID, c.MessageMap) {
		delete(c.MessageMap, id)
	}
	if parentID != "" {
		if parent := c.MessageMap[parentID]; parent != nil {
			parent.ChildrenIDs = removeID(parent.ChildrenIDs, userID)
		}
	}

	ts := now()
	userMsg := &models.Message{
		ID:          newID(),
		Role:        models.RoleUser,
		Content:     newText,
		ParentID:    parentID,
		Timestamp:   ts,
		Attachments: old.Attachments,
		Connections: old.Connections,
	}
	modelMsg := &models.Message{
		ID:        newID(),
		Role:      models.RoleModel,
		ParentID:  userMsg.ID,
		Timestamp: ts + 1,
	}
	userMsg.ChildrenIDs = []string{modelMsg.ID}

	c.MessageMap[userMsg.ID] = userMsg
	c.MessageMap[modelMsg.ID] = modelMsg
	if parentID != "" {
		if parent := c.MessageMap[parentID]; parent != nil {
			parent.ChildrenIDs = append(parent.ChildrenIDs, userMsg.ID)
		}
	}

	if c.RootMessageID == userID {
		c.RootMessageID = userMsg.ID
		c.Title = deriveTitle(newText, old.Attachments)
	}
	c.CurrentHeadID = modelMsg.ID
	c.LastModified = now()

	return c, TurnIDs{UserID: userMsg.ID, ModelID: modelMsg.ID}, nil
}

// EditAndFork creates a sibling branch next to the turn owning targetID,
// leaving the original branch untouched: an append against the replaced
// turn's parent.
func EditAndFork(s *models.Session, targetID, newText string) (*models.Session, TurnIDs, error) {
	userID := owningUserID(s, targetID)
	if userID == "" {
		return s, TurnIDs{}, apperr.ErrNotFound
	}
	return AppendTurn(s, s.MessageMap[userID].ParentID, newText, nil, nil)
}

// Connect records sourceID as a memory link into targetID. Rejected when the
// two coincide or when either is an ancestor of the other along the primary
// tree: a descendant already inherits its ancestor's history, and the
// reverse would make the injected memory circular. Idempotent.
func Connect(s *models.Session, sourceID, targetID string) (*models.Session, error) {
	if sourceID == targetID {
		return s, apperr.ErrSelfConnection
	}
	if s.Message(sourceID) == nil || s.Message(targetID) == nil {
		return s, apperr.ErrNotFound
	}
	if isAncestor(s, sourceID, targetID) {
		return s, apperr.ErrRedundantConnection
	}
	if isAncestor(s, targetID, sourceID) {
		return s, apperr.ErrCyclicConnection
	}
	if s.MessageMap[targetID].HasConnection(sourceID) {
		return s, nil
	}

	c := s.Clone()
	target := c.MessageMap[targetID]
	target.Connections = append(target.Connections, sourceID)
	c.LastModified = now()
	return c, nil
}

// Disconnect removes sourceID from targetID's connection set; a no-op when
// the link (or either node) is absent.
func Disconnect(s *models.Session, sourceID, targetID string) *models.Session {
	target := s.Message(targetID)
	if target == nil || !target.HasConnection(sourceID) {
		return s
	}
	c := s.Clone()
	t := c.MessageMap[targetID]
	t.Connections = removeID(t.Connections, sourceID)
	c.LastModified = now()
	return c
}

// SetHead moves the focus pointer. No structural change.
func SetHead(s *models.Session, nodeID string) (*models.Session, error) {
	if s.Message(nodeID) == nil {
		return s, apperr.ErrNotFound
	}
	c := s.Clone()
	c.CurrentHeadID = nodeID
	return c, nil
}

// Reposition stores a layout coordinate on the node and mirrors it onto its
// turn partner so the pair always moves as a unit.
func Reposition(s *models.Session, nodeID string, x, y float64) (*models.Session, error) {
	if s.Message(nodeID) == nil {
		return s, apperr.ErrNotFound
	}
	c := s.Clone()
	node := c.MessageMap[nodeID]
	node.Position = &models.Point{X: x, Y: y}
	if partner := turnPartner(c, node); partner != nil {
		partner.Position = &models.Point{X: x, Y: y}
	}
	c.LastModified = now()
	return c, nil
}

// AppendChunk appends streamed content to a pending model message. When the
// message has been deleted by an interleaved edit the chunk is silently
// dropped and the session returned unchanged.
func AppendChunk(s *models.Session, messageID, chunk string) *models.Session {
	if s.Message(messageID) == nil {
		return s
	}
	c := s.Clone()
	c.MessageMap[messageID].Content += chunk
	return c
}

// SetSummary attaches a generated label to a message if it still exists.
// Lost updates are acceptable: label generation races with everything.
func SetSummary(s *models.Session, messageID, summary string) *models.Session {
	if summary == "" || s.Message(messageID) == nil {
		return s
	}
	c := s.Clone()
	c.MessageMap[messageID].Summary = summary
	return c
}

// owningUserID resolves targetID to the user message of its turn: a model
// message resolves to its parent, a user message to itself. "" when absent.
func owningUserID(s *models.Session, targetID string) string {
	m := s.Message(targetID)
	if m == nil {
		return ""
	}
	if m.Role == models.RoleModel && m.ParentID != "" {
		if s.Message(m.ParentID) != nil {
			return m.ParentID
		}
		return ""
	}
	return m.ID
}

// isAncestor reports whether candidate lies strictly on nodeID's ancestor
// chain. A node is never its own ancestor.
func isAncestor(s *models.Session, candidate, nodeID string) bool {
	for curr := nodeID; curr != ""; {
		m := s.Message(curr)
		if m == nil {
			return false
		}
		if m.ParentID == candidate {
			return true
		}
		curr = m.ParentID
	}
	return false
}

// collectSubtree returns nodeID and every tree descendant of it.
func collectSubtree(nodeID string, msgs map[string]*models.Message) []string {
	ids := []string{nodeID}
	m := msgs[nodeID]
	if m == nil {
		return ids
	}
	for _, childID := range m.ChildrenIDs {
		ids = append(ids, collectSubtree(childID, msgs)...)
	}
	return ids
}

// turnPartner returns the other half of a turn: the parent user message of a
// model message, or the sole model child of a user message.
func turnPartner(s *models.Session, m *models.Message) *models.Message {
	if m.Role == models.RoleModel {
		return s.Message(m.ParentID)
	}
	if len(m.ChildrenIDs) > 0 {
		return s.Message(m.ChildrenIDs[0])
	}
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func deriveTitle(text string, attachments []models.Attachment) string {
	runes := []rune(text)
	if len(runes) > titleMax {
		runes = runes[:titleMax]
	}
	if strings.TrimSpace(text) != "" {
		return string(runes)
	}
	if len(attachments) > 0 {
		return "Image"
	}
	return "New Exploration"
}
