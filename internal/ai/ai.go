// Package ai defines the model transport consumed by the chat service: a
// streaming chat completion and a best-effort label generator.
package ai

import (
	"context"
	"errors"

	"github.com/starford/ansuz/internal/models"
)

// Classified transport failures. Everything else is generic.
var (
	ErrQuotaExceeded     = errors.New("api quota exceeded")
	ErrInvalidCredential = errors.New("invalid or expired api key")
	ErrPermissionDenied  = errors.New("permission denied")
)

// Turn is one entry of the linear request history handed to the model.
type Turn struct {
	Role        models.Role
	Content     string
	Attachments []models.Attachment
}

// Transport produces model output for an assembled thread.
//
// StreamChat invokes onChunk zero or more times in arrival order and then
// returns. On failure it returns one of the classified errors above (or a
// generic one) after the chunks delivered so far; the caller renders the
// failure as an inline note on the pending message.
//
// Summarize condenses text into a short node label. It is best-effort: an
// empty string with a nil error is a valid outcome and callers must treat
// any error as "no label".
type Transport interface {
	StreamChat(ctx context.Context, history []Turn, modelID, systemInstruction string, onChunk func(text string)) error
	Summarize(ctx context.Context, text, modelID string) (string, error)
}

// UserMessage converts a human-readable failure out of a classified error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "API quota exceeded (TPM limit reached). Please wait or upgrade your plan."
	case errors.Is(err, ErrInvalidCredential):
		return "Invalid or expired API Key. Please check your credentials."
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied. Check your API Key and permissions."
	default:
		return "Connection to the model interrupted. Please check your API Key."
	}
}
