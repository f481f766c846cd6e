// Package chatservice coordinates the conversation graph: it owns the
// in-memory session list, applies mutations through the engine, assembles
// request context, streams model output into pending messages, and fans
// updates out over the SSE broker. It is the single logical mutator of the
// graph; persistence is best-effort and the in-memory state stays
// authoritative.
package chatservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/engine"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/layout"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/store"
)

// Settings keys persisted through the store.
const (
	SettingChatModel  = "chat_model"
	SettingLabelModel = "label_model"
)

const comparisonHeader = "\n\n<system_context>\n[Multiverse Comparison Request]\n" +
	"The user has selected specific timelines to compare. Analyze the following " +
	"tracks as parallel possibilities:\n\n"

const comparisonFooter = "\n</system_context>\n\n"

// Options configures a Service.
type Options struct {
	Store             store.Provider
	Transport         ai.Transport
	Broker            *sse.Broker // optional
	Logger            *slog.Logger
	ChatModel         string
	LabelModel        string
	SystemInstruction string
}

// SessionMeta is the lightweight session listing entry.
type SessionMeta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	LastModified int64  `json:"lastModified"`
}

// TreeView is the rendering payload for the conversation map: the display
// tree with reconciled positions, the focused head, the processing flag, and
// a recenter transform when the focus moved since the last view.
type TreeView struct {
	Tree       *graph.TurnNode   `json:"tree"`
	HeadID     string            `json:"headId,omitempty"`
	Processing bool              `json:"processing"`
	Recenter   *layout.Transform `json:"recenter,omitempty"`
}

// Service is the orchestrator between the API surface, the mutation engine,
// the model transport, and the store.
type Service struct {
	store     store.Provider
	transport ai.Transport
	broker    *sse.Broker
	logger    *slog.Logger

	chatModel         string
	labelModel        string
	systemInstruction string

	mu          sync.Mutex
	sessions    []*models.Session
	activeID    string
	processing  map[string]bool
	reconcilers map[string]*layout.Reconciler

	tasks sync.WaitGroup
}

// NewService builds a service. Call Load before serving to hydrate state
// from the store.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:             opts.Store,
		transport:         opts.Transport,
		broker:            opts.Broker,
		logger:            logger,
		chatModel:         opts.ChatModel,
		labelModel:        opts.LabelModel,
		systemInstruction: opts.SystemInstruction,
		processing:        make(map[string]bool),
		reconcilers:       make(map[string]*layout.Reconciler),
	}
}

// Load hydrates sessions, the active pointer, and model overrides from the
// store. Missing data is an empty state, not an error.
func (s *Service) Load() error {
	sessions, err := s.store.LoadSessions()
	if err != nil {
		return fmt.Errorf("chatservice: load sessions: %w", err)
	}
	activeID, err := s.store.LoadActiveID()
	if err != nil {
		return fmt.Errorf("chatservice: load active id: %w", err)
	}

	chatModel, _ := s.store.LoadSetting(SettingChatModel)
	labelModel, _ := s.store.LoadSetting(SettingLabelModel)

	s.mu.Lock()
	s.sessions = sessions
	s.activeID = activeID
	if chatModel != "" {
		s.chatModel = chatModel
	}
	if labelModel != "" {
		s.labelModel = labelModel
	}
	s.mu.Unlock()
	return nil
}

// Wait blocks until all detached streaming and labelling tasks finish.
// Used by shutdown and tests.
func (s *Service) Wait() {
	s.tasks.Wait()
}

// --- Session collection ---

// CreateSession adds a new empty session, makes it active, and returns it.
func (s *Service) CreateSession() *models.Session {
	sess := models.NewSession(uuid.NewString())

	s.mu.Lock()
	s.sessions = append([]*models.Session{sess}, s.sessions...)
	s.activeID = sess.ID
	s.persistLocked()
	s.mu.Unlock()

	s.publishSession("created", sess.ID)
	return sess
}

// ListSessions returns session metadata in display order.
func (s *Service) ListSessions() []SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionMeta, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = SessionMeta{ID: sess.ID, Title: sess.Title, LastModified: sess.LastModified}
	}
	return out
}

// Session returns a snapshot of one session.
func (s *Service) Session(id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(id)
	if sess == nil {
		return nil, apperr.ErrNotFound
	}
	return sess, nil
}

// DeleteSession removes a session wholesale. In-flight chunks targeting it
// are dropped by the append reducer once the id no longer resolves.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	idx := -1
	for i, sess := range s.sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	delete(s.processing, id)
	delete(s.reconcilers, id)
	if s.activeID == id {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	s.publishSession("deleted", id)
	return nil
}

// ActiveID returns the focused session id, "" when none.
func (s *Service) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActiveID switches focus to an existing session.
func (s *Service) SetActiveID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.findLocked(id) == nil {
		return apperr.ErrNotFound
	}
	s.activeID = id
	if err := s.store.SaveActiveID(id); err != nil {
		s.logger.Warn("save active id failed", slog.String("error", err.Error()))
	}
	return nil
}

// --- Settings ---

// Setting reads a persisted setting, falling back to the configured model
// ids for the two model keys.
func (s *Service) Setting(key string) string {
	if v, err := s.store.LoadSetting(key); err == nil && v != "" {
		return v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case SettingChatModel:
		return s.chatModel
	case SettingLabelModel:
		return s.labelModel
	}
	return ""
}

// SetSetting persists a setting and applies model overrides immediately.
func (s *Service) SetSetting(key, value string) error {
	if err := s.store.SaveSetting(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	switch key {
	case SettingChatModel:
		s.chatModel = value
	case SettingLabelModel:
		s.labelModel = value
	}
	s.mu.Unlock()
	return nil
}

// --- Read side ---

// Thread returns the linear thread for display, connections off. headID ""
// means the session's current head; a non-empty headID renders an arbitrary
// track (the read-only historical view).
func (s *Service) Thread(sessionID, headID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		return nil, apperr.ErrNotFound
	}
	if headID == "" {
		headID = sess.CurrentHeadID
	}
	return graph.AssembleThread(headID, sess.MessageMap, false), nil
}

// Tree builds the display tree with reconciled layout positions. width and
// height are the client viewport, used for the recenter transform emitted
// when the head changed since the previous call.
func (s *Service) Tree(sessionID string, width, height float64) (*TreeView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		return nil, apperr.ErrNotFound
	}

	root := graph.BuildHierarchy(sess.RootMessageID, sess.MessageMap, sess.CurrentHeadID)

	rec := s.reconcilers[sessionID]
	if rec == nil {
		rec = layout.NewReconciler()
		s.reconcilers[sessionID] = rec
	}
	rec.Reconcile(root, sess.MessageMap)
	rec.Forget(sess.MessageMap)

	view := &TreeView{
		Tree:       root,
		HeadID:     sess.CurrentHeadID,
		Processing: s.processing[sessionID],
	}
	if t, ok := rec.RecenterOnHeadChange(sess.CurrentHeadID, width, height); ok {
		view.Recenter = &t
	}
	return view, nil
}

// --- Mutations ---

// SendMessage appends a user turn under the session's current head and
// streams the model response into the paired model message. An empty
// sessionID creates a session on the fly. trackIDs select alternate-ending
// leaves whose full threads are sent as a comparison block, for the request
// only.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string, attachments []models.Attachment, trackIDs []string) (*models.Session, engine.TurnIDs, error) {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil && sessionID != "" {
		s.mu.Unlock()
		return nil, engine.TurnIDs{}, apperr.ErrNotFound
	}
	if sess == nil {
		sess = models.NewSession(uuid.NewString())
		s.sessions = append([]*models.Session{sess}, s.sessions...)
		s.activeID = sess.ID
	}
	if s.processing[sess.ID] {
		s.mu.Unlock()
		return nil, engine.TurnIDs{}, apperr.ErrProcessing
	}

	next, ids, err := engine.AppendTurn(sess, sess.CurrentHeadID, text, attachments, trackIDs)
	if err != nil {
		s.mu.Unlock()
		return nil, engine.TurnIDs{}, err
	}
	history := s.requestHistory(next, ids.UserID, trackIDs)
	s.commitLocked(next)
	s.processing[next.ID] = true
	s.mu.Unlock()

	s.publishSession("updated", next.ID)
	s.startLabel(ctx, next.ID, ids.UserID, text)
	s.startStream(ctx, next.ID, ids.ModelID, history)
	return next, ids, nil
}

// EditMessage rewrites the turn owning targetID. With fork set the original
// branch is kept and a sibling branch is created; otherwise the old branch
// is deleted and replaced in place. Either way a fresh response is streamed.
func (s *Service) EditMessage(ctx context.Context, sessionID, targetID, text string, fork bool) (*models.Session, engine.TurnIDs, error) {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return nil, engine.TurnIDs{}, apperr.ErrNotFound
	}
	if s.processing[sess.ID] {
		s.mu.Unlock()
		return nil, engine.TurnIDs{}, apperr.ErrProcessing
	}

	var (
		next *models.Session
		ids  engine.TurnIDs
		err  error
	)
	if fork {
		next, ids, err = engine.EditAndFork(sess, targetID, text)
	} else {
		next, ids, err = engine.EditReplace(sess, targetID, text)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, engine.TurnIDs{}, err
	}
	history := s.requestHistory(next, ids.UserID, nil)
	s.commitLocked(next)
	s.processing[next.ID] = true
	s.mu.Unlock()

	s.publishSession("updated", next.ID)
	s.startLabel(ctx, next.ID, ids.UserID, text)
	s.startStream(ctx, next.ID, ids.ModelID, history)
	return next, ids, nil
}

// Connect records a memory link from sourceID into targetID.
func (s *Service) Connect(sessionID, sourceID, targetID string) error {
	return s.mutate(sessionID, func(sess *models.Session) (*models.Session, error) {
		return engine.Connect(sess, sourceID, targetID)
	})
}

// Disconnect removes a memory link.
func (s *Service) Disconnect(sessionID, sourceID, targetID string) error {
	return s.mutate(sessionID, func(sess *models.Session) (*models.Session, error) {
		return engine.Disconnect(sess, sourceID, targetID), nil
	})
}

// SelectNode moves the focus head.
func (s *Service) SelectNode(sessionID, nodeID string) error {
	return s.mutate(sessionID, func(sess *models.Session) (*models.Session, error) {
		return engine.SetHead(sess, nodeID)
	})
}

// Reposition stores a dragged coordinate, clamped so the turn stays between
// its parent's and children's rows, and mirrored onto the turn partner.
func (s *Service) Reposition(sessionID, nodeID string, x, y float64) error {
	return s.mutate(sessionID, func(sess *models.Session) (*models.Session, error) {
		cx, cy := layout.ClampDrag(nodeID, x, y, sess.MessageMap)
		next, err := engine.Reposition(sess, nodeID, cx, cy)
		if err != nil {
			return nil, err
		}
		if rec := s.reconcilers[sessionID]; rec != nil {
			rec.Set(nodeID, models.Point{X: cx, Y: cy})
		}
		return next, nil
	})
}

// mutate applies one engine operation against the current snapshot under
// the lock, persists, and publishes.
func (s *Service) mutate(sessionID string, op func(*models.Session) (*models.Session, error)) error {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return apperr.ErrNotFound
	}
	next, err := op(sess)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.commitLocked(next)
	s.mu.Unlock()

	s.publishSession("updated", sessionID)
	return nil
}

// --- Request assembly ---

// requestHistory assembles the linear context for the model: the thread up
// to the new user message with memory connections injected, plus the track
// comparison block prepended to the user message when tracks were selected.
// The block exists in the outgoing copy only.
func (s *Service) requestHistory(sess *models.Session, userMsgID string, trackIDs []string) []ai.Turn {
	thread := graph.AssembleThread(userMsgID, sess.MessageMap, true)

	history := make([]ai.Turn, len(thread))
	for i, m := range thread {
		history[i] = ai.Turn{Role: m.Role, Content: m.Content, Attachments: m.Attachments}
	}

	if len(trackIDs) > 0 && len(history) > 0 {
		blocks := make([]string, 0, len(trackIDs))
		for i, headID := range trackIDs {
			label := string(rune('A' + i))
			blocks = append(blocks, fmt.Sprintf("[Track %s]:\n%s\n-------------------",
				label, graph.RenderTrack(headID, sess.MessageMap)))
		}
		last := &history[len(history)-1]
		last.Content = comparisonHeader + strings.Join(blocks, "\n\n") + comparisonFooter + last.Content
	}

	return history
}

// --- Streaming ---

// startStream launches the detached model call that feeds the pending model
// message. Chunks are applied through an append-if-target-exists reducer
// against the current snapshot, so a session or branch deleted mid-stream
// simply swallows the rest.
func (s *Service) startStream(ctx context.Context, sessionID, modelMsgID string, history []ai.Turn) {
	// The send returns before the stream finishes; the request context that
	// carried it dies with the response, so the stream must not inherit its
	// cancellation.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	model := s.chatModel
	s.mu.Unlock()

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer func() {
			s.mu.Lock()
			delete(s.processing, sessionID)
			s.persistLocked()
			s.mu.Unlock()
			s.publishSession("completed", sessionID)
		}()

		err := s.transport.StreamChat(ctx, history, model, s.systemInstruction, func(text string) {
			s.applyChunk(sessionID, modelMsgID, text)
		})
		if err != nil {
			msg := ai.UserMessage(err)
			s.logger.Error("stream failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			// Terminal inline note on the message itself, plus the toast event.
			s.applyChunk(sessionID, modelMsgID, "\n["+msg+"]")
			if s.broker != nil {
				s.broker.Publish(sse.Event{Type: "message.error", Data: map[string]string{
					"sessionId": sessionID,
					"messageId": modelMsgID,
					"message":   msg,
				}})
			}
		}
	}()
}

// applyChunk appends one streamed fragment if the target still exists.
func (s *Service) applyChunk(sessionID, messageID, text string) {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return
	}
	next := engine.AppendChunk(sess, messageID, text)
	if next == sess {
		// Message gone; drop silently.
		s.mu.Unlock()
		return
	}
	s.replaceLocked(next)
	s.mu.Unlock()

	if s.broker != nil {
		s.broker.PublishChunk(sessionID, messageID, text)
	}
}

// startLabel kicks off best-effort summary generation for a new user
// message. Failures and lost updates are dropped.
func (s *Service) startLabel(ctx context.Context, sessionID, userMsgID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	model := s.labelModel
	s.mu.Unlock()

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		label, err := s.transport.Summarize(ctx, text, model)
		if err != nil || label == "" {
			if err != nil {
				s.logger.Debug("label generation failed", slog.String("error", err.Error()))
			}
			return
		}

		s.mu.Lock()
		sess := s.findLocked(sessionID)
		if sess == nil {
			s.mu.Unlock()
			return
		}
		next := engine.SetSummary(sess, userMsgID, label)
		if next == sess {
			s.mu.Unlock()
			return
		}
		s.replaceLocked(next)
		s.persistLocked()
		s.mu.Unlock()

		s.publishSession("summary", sessionID)
	}()
}

// --- Internal state helpers (callers hold s.mu) ---

func (s *Service) findLocked(id string) *models.Session {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// replaceLocked swaps in a new snapshot for its session id.
func (s *Service) replaceLocked(next *models.Session) {
	for i, sess := range s.sessions {
		if sess.ID == next.ID {
			s.sessions[i] = next
			return
		}
	}
	s.sessions = append([]*models.Session{next}, s.sessions...)
}

// commitLocked replaces the snapshot and persists best-effort.
func (s *Service) commitLocked(next *models.Session) {
	s.replaceLocked(next)
	s.persistLocked()
}

// persistLocked saves the whole collection and the active pointer. Storage
// failures are reported but never invalidate the in-memory state.
func (s *Service) persistLocked() {
	if err := s.store.SaveSessions(s.sessions); err != nil {
		s.logger.Error("save sessions failed", slog.String("error", err.Error()))
	}
	if err := s.store.SaveActiveID(s.activeID); err != nil {
		s.logger.Error("save active id failed", slog.String("error", err.Error()))
	}
}

func (s *Service) publishSession(kind, sessionID string) {
	if s.broker != nil {
		s.broker.PublishSessionEvent(kind, sessionID)
	}
}
