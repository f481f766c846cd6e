package ai

import (
	"context"
	"sync"
)

// StaticTransport is a scripted Transport for tests and offline runs: it
// replays configured chunks and labels and records the histories it was
// asked to complete.
type StaticTransport struct {
	mu sync.Mutex

	// Chunks are emitted in order on every StreamChat call.
	Chunks []string
	// Err, when set, is returned after the chunks are delivered.
	Err error
	// Label is returned by Summarize.
	Label string

	// Histories collects the request history of each StreamChat call.
	Histories [][]Turn
	// Summarized collects every text passed to Summarize.
	Summarized []string
}

// StreamChat replays the scripted chunks.
func (s *StaticTransport) StreamChat(ctx context.Context, history []Turn, modelID, systemInstruction string, onChunk func(string)) error {
	s.mu.Lock()
	s.Histories = append(s.Histories, append([]Turn(nil), history...))
	chunks, err := s.Chunks, s.Err
	s.mu.Unlock()

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		onChunk(chunk)
	}
	return err
}

// Summarize replays the scripted label.
func (s *StaticTransport) Summarize(ctx context.Context, text, modelID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Summarized = append(s.Summarized, text)
	return s.Label, nil
}

var _ Transport = (*StaticTransport)(nil)
