package graph

import (
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// labelMax is the truncation length used when a node has no generated
// summary and falls back to its leading content.
const labelMax = 18

// TurnNode is one node of the display tree. The visual unit is a turn: a
// user message paired with its model response. The node id is the model
// message id so that selecting a node restores the state right after the
// model answered; it falls back to the user message id while the response
// is still streaming.
type TurnNode struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	IsCurrentPath    bool          `json:"isCurrentPath"`
	IsLeaf           bool          `json:"isLeaf"`
	Connections      []string      `json:"connections,omitempty"`
	AttachedTrackIDs []string      `json:"attachedTrackIds,omitempty"`
	Position         *models.Point `json:"position,omitempty"`
	Children         []*TurnNode   `json:"children,omitempty"`
}

// BuildHierarchy converts the flat message map into a display tree rooted at
// rootID, marking the ancestor chain of currentHeadID as the active path.
// Returns nil when the root is empty or missing.
func BuildHierarchy(rootID string, msgs map[string]*models.Message, currentHeadID string) *TurnNode {
	if rootID == "" || msgs[rootID] == nil {
		return nil
	}

	active := make(map[string]struct{})
	for curr := currentHeadID; curr != ""; {
		active[curr] = struct{}{}
		m := msgs[curr]
		if m == nil {
			break
		}
		curr = m.ParentID
	}

	return buildTurn(rootID, msgs, active)
}

// buildTurn consumes a user message id (the start of a turn) and emits the
// subtree of turns below it.
func buildTurn(userID string, msgs map[string]*models.Message, active map[string]struct{}) *TurnNode {
	userMsg := msgs[userID]
	if userMsg == nil {
		return nil
	}

	// The paired model response is always the first (sole) tree child of the
	// user message. It may not exist yet while a response streams.
	var modelMsg *models.Message
	if len(userMsg.ChildrenIDs) > 0 {
		modelMsg = msgs[userMsg.ChildrenIDs[0]]
	}

	nodeID := userID
	if modelMsg != nil {
		nodeID = modelMsg.ID
	}

	_, onPath := active[nodeID]

	node := &TurnNode{
		ID:               nodeID,
		Name:             turnLabel(userMsg),
		IsCurrentPath:    onPath,
		Connections:      append(append([]string(nil), userMsg.Connections...), connectionsOf(modelMsg)...),
		AttachedTrackIDs: append([]string(nil), userMsg.AttachedTrackIDs...),
	}
	if len(node.Connections) == 0 {
		node.Connections = nil
	}
	if len(node.AttachedTrackIDs) == 0 {
		node.AttachedTrackIDs = nil
	}
	if modelMsg != nil && modelMsg.Position != nil {
		p := *modelMsg.Position
		node.Position = &p
	} else if userMsg.Position != nil {
		p := *userMsg.Position
		node.Position = &p
	}

	if modelMsg != nil {
		for _, childID := range modelMsg.ChildrenIDs {
			if child := buildTurn(childID, msgs, active); child != nil {
				node.Children = append(node.Children, child)
			}
		}
	}
	node.IsLeaf = len(node.Children) == 0

	return node
}

func connectionsOf(m *models.Message) []string {
	if m == nil {
		return nil
	}
	return m.Connections
}

// turnLabel picks the node label: the generated summary when present, a
// truncated slice of the prompt otherwise, "Image" for attachment-only
// prompts, empty as the last resort.
func turnLabel(userMsg *models.Message) string {
	if userMsg.Summary != "" {
		return userMsg.Summary
	}
	content := []rune(userMsg.Content)
	if len(strings.TrimSpace(userMsg.Content)) > 0 {
		if len(content) > labelMax {
			return string(content[:labelMax]) + "..."
		}
		return string(content)
	}
	if len(userMsg.Attachments) > 0 {
		return "Image"
	}
	return ""
}
