package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/starford/ansuz/internal/models"
)

const labelPrompt = `Summarize the following user input into a very short label ` +
	`(max 3-5 words) to be used as a name for a node in a conversation graph. ` +
	`Identify the language of the input and generate the label in the SAME language. ` +
	`Return only the label text. Input: %q`

// Client is the OpenAI-compatible Transport implementation.
type Client struct {
	api *openai.Client
}

// NewClient builds a transport against an OpenAI-compatible endpoint.
// baseURL may be empty for the default endpoint.
func NewClient(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// StreamChat implements Transport using a chat completion stream.
func (c *Client) StreamChat(ctx context.Context, history []Turn, modelID, systemInstruction string, onChunk func(string)) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemInstruction,
		})
	}
	for _, t := range history {
		messages = append(messages, toChatMessage(t))
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: messages,
	})
	if err != nil {
		return classify(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
			onChunk(resp.Choices[0].Delta.Content)
		}
	}
}

// Summarize implements the label generator with a single non-streamed
// completion. Empty input yields an empty label without a request.
func (c *Client) Summarize(ctx context.Context, text, modelID string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(labelPrompt, text)},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// toChatMessage maps a history turn onto the wire format. Attachments ride
// as inline data-URL image parts next to the text.
func toChatMessage(t Turn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleAssistant
	if t.Role == models.RoleUser {
		role = openai.ChatMessageRoleUser
	}

	if len(t.Attachments) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: t.Content}
	}

	parts := make([]openai.ChatMessagePart, 0, len(t.Attachments)+1)
	for _, att := range t.Attachments {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: dataURL(att),
			},
		})
	}
	// The API requires at least one part; always close with the text part.
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: t.Content,
	})
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func dataURL(att models.Attachment) string {
	return "data:" + att.MimeType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
}

// classify maps API failures onto the transport error taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		case 401:
			return fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.Message)
		case 403:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.Message)
		}
	}
	return fmt.Errorf("ai: request failed: %w", err)
}
