package api

import (
	"github.com/starford/ansuz/internal/chatservice"
	"github.com/starford/ansuz/internal/models"
)

// SendMessageRequest is the request body for appending a user turn.
type SendMessageRequest struct {
	Text        string              `json:"text" example:"Tell me a joke"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	TrackIDs    []string            `json:"trackIds,omitempty"`
}

// EditMessageRequest is the request body for rewriting a turn.
// Fork keeps the original branch and creates a sibling; without it the old
// branch is deleted and replaced.
type EditMessageRequest struct {
	Text string `json:"text" validate:"required"`
	Fork bool   `json:"fork"`
}

// ConnectionRequest names the two ends of a memory link.
type ConnectionRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
}

// HeadRequest selects the focused node.
type HeadRequest struct {
	NodeID string `json:"nodeId" validate:"required"`
}

// PositionRequest carries a dragged coordinate.
type PositionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ActiveRequest switches the active session.
type ActiveRequest struct {
	SessionID string `json:"sessionId"`
}

// SettingRequest sets a persisted setting value.
type SettingRequest struct {
	Value string `json:"value"`
}

// SessionMeta is a lightweight session listing entry (aliased from the domain layer).
type SessionMeta = chatservice.SessionMeta

// TreeView is the conversation map payload (aliased from the domain layer).
type TreeView = chatservice.TreeView

// SessionListResponse wraps session listings.
type SessionListResponse struct {
	Sessions []SessionMeta `json:"sessions" validate:"required"`
}

// ThreadResponse wraps a linear thread.
type ThreadResponse struct {
	Messages []*models.Message `json:"messages" validate:"required"`
}

// SendMessageResponse identifies the turn created by a send or edit.
type SendMessageResponse struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	ModelID   string `json:"modelId" validate:"required"`
}

// ActiveResponse reports the focused session, empty when none.
type ActiveResponse struct {
	SessionID string `json:"sessionId"`
}

// SettingResponse reports one setting value.
type SettingResponse struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}
