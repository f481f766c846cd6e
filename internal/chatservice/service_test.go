package chatservice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/testutil"
)

func testService(t *testing.T, transport ai.Transport) *Service {
	t.Helper()
	svc := NewService(Options{
		Store:             testutil.FileStore(t),
		Transport:         transport,
		Logger:            testutil.DiscardLogger(),
		ChatModel:         "chat-model",
		LabelModel:        "label-model",
		SystemInstruction: "You are a helpful AI assistant. Answer concisely and clearly.",
	})
	if err := svc.Load(); err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestSendMessage_StreamsIntoModelMessage(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"Hel", "lo ", "there"}, Label: "Greeting"}
	svc := testService(t, transport)

	sess, ids, err := svc.SendMessage(context.Background(), "", "Hi", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	got, err := svc.Session(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if content := got.Message(ids.ModelID).Content; content != "Hello there" {
		t.Errorf("streamed content = %q, want %q", content, "Hello there")
	}
	if summary := got.Message(ids.UserID).Summary; summary != "Greeting" {
		t.Errorf("label = %q, want %q", summary, "Greeting")
	}
	if svc.ActiveID() != sess.ID {
		t.Error("auto-created session must become active")
	}

	// Processing flag cleared after the stream.
	view, err := svc.Tree(sess.ID, 800, 600)
	if err != nil {
		t.Fatal(err)
	}
	if view.Processing {
		t.Error("processing flag still set after completion")
	}
}

func TestSendMessage_RejectsWhileStreaming(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"slow"}}
	svc := testService(t, transport)

	// Simulate an in-flight stream with a manually held processing flag so
	// the rejection path is deterministic.
	sess, _, err := svc.SendMessage(context.Background(), "", "first", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	svc.mu.Lock()
	svc.processing[sess.ID] = true
	svc.mu.Unlock()

	if _, _, err := svc.SendMessage(context.Background(), sess.ID, "second", nil, nil); !errors.Is(err, apperr.ErrProcessing) {
		t.Errorf("err = %v, want ErrProcessing", err)
	}
	svc.mu.Lock()
	delete(svc.processing, sess.ID)
	svc.mu.Unlock()
	svc.Wait()
}

func TestSendMessage_TransportErrorInlined(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"partial"}, Err: ai.ErrQuotaExceeded}
	svc := testService(t, transport)

	sess, ids, err := svc.SendMessage(context.Background(), "", "Hi", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	got, _ := svc.Session(sess.ID)
	content := got.Message(ids.ModelID).Content
	if !strings.HasPrefix(content, "partial") {
		t.Errorf("chunks before the failure must survive: %q", content)
	}
	if !strings.Contains(content, "[API quota exceeded (TPM limit reached). Please wait or upgrade your plan.]") {
		t.Errorf("missing inline failure note: %q", content)
	}
}

func TestSendMessage_UnknownSession(t *testing.T) {
	svc := testService(t, &ai.StaticTransport{})
	if _, _, err := svc.SendMessage(context.Background(), "ghost", "x", nil, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSendMessage_SystemAndHistoryReachTransport(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"A"}}
	svc := testService(t, transport)

	sess, _, err := svc.SendMessage(context.Background(), "", "first", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	if _, _, err := svc.SendMessage(context.Background(), sess.ID, "second", nil, nil); err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	if len(transport.Histories) != 2 {
		t.Fatalf("transport calls = %d, want 2", len(transport.Histories))
	}
	second := transport.Histories[1]
	// first user, first model, second user.
	if len(second) != 3 {
		t.Fatalf("second history length = %d, want 3", len(second))
	}
	if second[0].Content != "first" || second[1].Content != "A" || second[2].Content != "second" {
		t.Errorf("history = %+v", second)
	}
}

func TestSendMessage_TrackComparisonBlock(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"ok"}}
	svc := testService(t, transport)

	sess, first, err := svc.SendMessage(context.Background(), "", "root q", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	// Fork an alternate ending off the root turn.
	_, fork, err := svc.EditMessage(context.Background(), sess.ID, first.UserID, "alt q", true)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	// Ask a comparison of the two endings from the fork's head.
	_, ids, err := svc.SendMessage(context.Background(), sess.ID, "which is better?", nil, []string{first.ModelID, fork.ModelID})
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	last := transport.Histories[len(transport.Histories)-1]
	prompt := last[len(last)-1].Content
	if !strings.Contains(prompt, "[Multiverse Comparison Request]") {
		t.Fatalf("missing comparison header in %q", prompt)
	}
	if !strings.Contains(prompt, "[Track A]:") || !strings.Contains(prompt, "[Track B]:") {
		t.Errorf("missing track labels in %q", prompt)
	}
	if !strings.Contains(prompt, "which is better?") {
		t.Errorf("user prompt lost from the outgoing copy: %q", prompt)
	}

	// The block is request-only: the stored message carries just the text.
	got, _ := svc.Session(sess.ID)
	if stored := got.Message(ids.UserID).Content; stored != "which is better?" {
		t.Errorf("stored content = %q, comparison block must not persist", stored)
	}
	if tracks := got.Message(ids.UserID).AttachedTrackIDs; len(tracks) != 2 {
		t.Errorf("track provenance lost: %v", tracks)
	}
}

func TestEditMessage_ReplaceAndFork(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"resp"}}
	svc := testService(t, transport)

	sess, first, err := svc.SendMessage(context.Background(), "", "original", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	// Fork: original survives.
	_, forkIDs, err := svc.EditMessage(context.Background(), sess.ID, first.UserID, "forked", true)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	got, _ := svc.Session(sess.ID)
	if got.Message(first.UserID) == nil {
		t.Error("fork removed the original branch")
	}
	if got.Message(forkIDs.UserID) == nil {
		t.Error("fork branch missing")
	}

	// Replace: the fork branch disappears.
	_, replIDs, err := svc.EditMessage(context.Background(), sess.ID, forkIDs.UserID, "replaced", false)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	got, _ = svc.Session(sess.ID)
	if got.Message(forkIDs.UserID) != nil {
		t.Error("replace left the old branch in place")
	}
	if got.Message(replIDs.UserID).Content != "replaced" {
		t.Error("replacement content wrong")
	}
}

func TestDeleteSession_DropsLateChunks(t *testing.T) {
	release := make(chan struct{})
	transport := &blockingTransport{release: release, chunk: "late"}
	svc := testService(t, transport)

	sess, ids, err := svc.SendMessage(context.Background(), "", "Hi", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteSession(sess.ID); err != nil {
		t.Fatal(err)
	}
	close(release)
	svc.Wait()

	if _, err := svc.Session(sess.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("deleted session still resolvable")
	}
	_ = ids
}

// blockingTransport delivers its single chunk only after release closes.
type blockingTransport struct {
	release <-chan struct{}
	chunk   string
}

func (b *blockingTransport) StreamChat(ctx context.Context, history []ai.Turn, modelID, systemInstruction string, onChunk func(string)) error {
	select {
	case <-b.release:
	case <-time.After(5 * time.Second):
	}
	onChunk(b.chunk)
	return nil
}

func (b *blockingTransport) Summarize(ctx context.Context, text, modelID string) (string, error) {
	return "", nil
}

func TestConnectAndDisconnect(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"r"}}
	svc := testService(t, transport)

	sess, first, err := svc.SendMessage(context.Background(), "", "root", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	_, fork, err := svc.EditMessage(context.Background(), sess.ID, first.UserID, "alt", true)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	if err := svc.Connect(sess.ID, first.ModelID, fork.UserID); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Session(sess.ID)
	if !got.Message(fork.UserID).HasConnection(first.ModelID) {
		t.Error("link not recorded through the service")
	}

	if err := svc.Connect(sess.ID, fork.UserID, fork.UserID); !errors.Is(err, apperr.ErrSelfConnection) {
		t.Errorf("self link err = %v", err)
	}

	if err := svc.Disconnect(sess.ID, first.ModelID, fork.UserID); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Session(sess.ID)
	if got.Message(fork.UserID).HasConnection(first.ModelID) {
		t.Error("link survived disconnect")
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	provider := store.NewFile(dir)
	if err := provider.Open(); err != nil {
		t.Fatal(err)
	}
	transport := &ai.StaticTransport{Chunks: []string{"persisted"}}
	svc := NewService(Options{Store: provider, Transport: transport, Logger: testutil.DiscardLogger()})
	if err := svc.Load(); err != nil {
		t.Fatal(err)
	}

	sess, ids, err := svc.SendMessage(context.Background(), "", "Hi", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	// A second service over the same directory sees the same state.
	reopened := NewService(Options{Store: store.NewFile(dir), Transport: transport, Logger: testutil.DiscardLogger()})
	if err := reopened.Load(); err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Session(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Message(ids.ModelID).Content != "persisted" {
		t.Errorf("reloaded content = %q", got.Message(ids.ModelID).Content)
	}
	if reopened.ActiveID() != sess.ID {
		t.Error("active pointer not persisted")
	}
}

func TestTreeViewRecenterOnHeadChange(t *testing.T) {
	transport := &ai.StaticTransport{Chunks: []string{"r"}}
	svc := testService(t, transport)

	sess, _, err := svc.SendMessage(context.Background(), "", "root", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	first, err := svc.Tree(sess.ID, 800, 600)
	if err != nil {
		t.Fatal(err)
	}
	if first.Recenter == nil {
		t.Error("first view of a new head must carry a recenter transform")
	}
	again, err := svc.Tree(sess.ID, 800, 600)
	if err != nil {
		t.Fatal(err)
	}
	if again.Recenter != nil {
		t.Error("unchanged head must not recenter again")
	}
}

func TestSettings(t *testing.T) {
	svc := testService(t, &ai.StaticTransport{})
	if got := svc.Setting(SettingChatModel); got != "chat-model" {
		t.Errorf("default chat model = %q", got)
	}
	if err := svc.SetSetting(SettingChatModel, "other-model"); err != nil {
		t.Fatal(err)
	}
	if got := svc.Setting(SettingChatModel); got != "other-model" {
		t.Errorf("overridden chat model = %q", got)
	}
}

// Model overrides are touched by Load (the watcher reload path) and by
// SetSetting at the same time; both must go through the service lock.
func TestSettings_ConcurrentReload(t *testing.T) {
	svc := testService(t, &ai.StaticTransport{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := svc.Load(); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := svc.SetSetting(SettingChatModel, "tuned-model"); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()

	if got := svc.Setting(SettingChatModel); got != "tuned-model" {
		t.Errorf("chat model after reloads = %q, want %q", got, "tuned-model")
	}
}

func TestEventsPublishedOverBroker(t *testing.T) {
	broker := sse.NewBroker(time.Hour)
	defer broker.Close()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	transport := &ai.StaticTransport{Chunks: []string{"x"}}
	svc := NewService(Options{
		Store: testutil.FileStore(t), Transport: transport, Broker: broker,
		Logger: testutil.DiscardLogger(),
	})
	if err := svc.Load(); err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.SendMessage(context.Background(), "", "Hi", nil, nil); err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	sawChunk, sawCompleted := false, false
	deadline := time.After(2 * time.Second)
	for !(sawChunk && sawCompleted) {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "message.chunk") {
				sawChunk = true
			}
			if strings.Contains(s, "session.completed") {
				sawCompleted = true
			}
		case <-deadline:
			t.Fatalf("missing events: chunk=%v completed=%v", sawChunk, sawCompleted)
		}
	}
}
