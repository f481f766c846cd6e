package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/chatservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *chatservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *chatservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List sessions
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.svc.ListSessions(),
	})
}

// CreateSession handles POST /api/sessions.
//
//	@Summary		Create a new empty session and make it active
//	@Tags			sessions
//	@Produce		json
//	@Success		201	{object}	models.Session
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.svc.CreateSession()
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/sessions/{id}.
//
//	@Summary		Get a full session snapshot
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	models.Session
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/sessions/{id}.
//
//	@Summary		Delete a session
//	@Tags			sessions
//	@Param			id	path	string	true	"Session id"
//	@Success		204	"Session deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [delete]
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(chi.URLParam(r, "id")); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetThread handles GET /api/sessions/{id}/thread.
//
//	@Summary		Get the linear thread for the current head, or an arbitrary track
//	@Tags			graph
//	@Produce		json
//	@Param			id		path		string	true	"Session id"
//	@Param			head	query		string	false	"Render the thread ending at this node instead of the current head"
//	@Success		200		{object}	ThreadResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/thread [get]
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.svc.Thread(id, r.URL.Query().Get("head"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
	})
}

// GetTree handles GET /api/sessions/{id}/tree.
//
//	@Summary		Get the conversation map with reconciled layout positions
//	@Tags			graph
//	@Produce		json
//	@Param			id		path		string	true	"Session id"
//	@Param			width	query		number	false	"Viewport width for recenter transforms"
//	@Param			height	query		number	false	"Viewport height for recenter transforms"
//	@Success		200		{object}	TreeView
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/tree [get]
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	width, _ := strconv.ParseFloat(r.URL.Query().Get("width"), 64)
	height, _ := strconv.ParseFloat(r.URL.Query().Get("height"), 64)
	view, err := h.svc.Tree(id, width, height)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SendMessage handles POST /api/sessions/{id}/messages.
//
//	@Summary		Append a user turn and stream the model response
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session id"
//	@Param			body	body		SendMessageRequest	true	"Message to send"
//	@Success		202		{object}	SendMessageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/messages [post]
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 20<<20)
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("text or attachments are required"))
		return
	}

	sess, ids, err := h.svc.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Text, req.Attachments, req.TrackIDs)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrProcessing):
			writeJSON(w, http.StatusConflict, errorBody("a response is already streaming"))
		default:
			slog.Error("send message failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, SendMessageResponse{
		SessionID: sess.ID,
		UserID:    ids.UserID,
		ModelID:   ids.ModelID,
	})
}

// EditMessage handles POST /api/sessions/{id}/messages/{mid}/edit.
//
//	@Summary		Rewrite a turn, replacing its branch or forking a sibling
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session id"
//	@Param			mid		path		string				true	"Message id (either half of the turn)"
//	@Param			body	body		EditMessageRequest	true	"New text"
//	@Success		202		{object}	SendMessageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/messages/{mid}/edit [post]
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}

	sess, ids, err := h.svc.EditMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "mid"), req.Text, req.Fork)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrProcessing):
			writeJSON(w, http.StatusConflict, errorBody("a response is already streaming"))
		default:
			slog.Error("edit message failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, SendMessageResponse{
		SessionID: sess.ID,
		UserID:    ids.UserID,
		ModelID:   ids.ModelID,
	})
}

// Connect handles POST /api/sessions/{id}/connections.
//
//	@Summary		Create a memory link between two nodes
//	@Tags			connections
//	@Accept			json
//	@Param			id		path	string				true	"Session id"
//	@Param			body	body	ConnectionRequest	true	"Link endpoints"
//	@Success		204		"Link created"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/connections [post]
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.SourceID == "" || req.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("sourceId and targetId are required"))
		return
	}

	err := h.svc.Connect(chi.URLParam(r, "id"), req.SourceID, req.TargetID)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrSelfConnection),
			errors.Is(err, apperr.ErrRedundantConnection),
			errors.Is(err, apperr.ErrCyclicConnection):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		default:
			slog.Error("connect failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disconnect handles DELETE /api/sessions/{id}/connections.
//
//	@Summary		Remove a memory link
//	@Tags			connections
//	@Param			id			path	string	true	"Session id"
//	@Param			sourceId	query	string	true	"Link source node"
//	@Param			targetId	query	string	true	"Link target node"
//	@Success		204	"Link removed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/connections [delete]
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sourceID, targetID := q.Get("sourceId"), q.Get("targetId")
	if sourceID == "" || targetID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("sourceId and targetId are required"))
		return
	}
	if err := h.svc.Disconnect(chi.URLParam(r, "id"), sourceID, targetID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetHead handles PUT /api/sessions/{id}/head.
//
//	@Summary		Move the focused head to another node
//	@Tags			graph
//	@Accept			json
//	@Param			id		path	string		true	"Session id"
//	@Param			body	body	HeadRequest	true	"Target node"
//	@Success		204	"Head moved"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/head [put]
func (h *Handler) SetHead(w http.ResponseWriter, r *http.Request) {
	var req HeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.SelectNode(chi.URLParam(r, "id"), req.NodeID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPosition handles PUT /api/sessions/{id}/positions/{mid}.
//
//	@Summary		Store a dragged node position
//	@Tags			graph
//	@Accept			json
//	@Param			id		path	string			true	"Session id"
//	@Param			mid		path	string			true	"Message id"
//	@Param			body	body	PositionRequest	true	"New coordinate"
//	@Success		204	"Position stored"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/positions/{mid} [put]
func (h *Handler) SetPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.Reposition(chi.URLParam(r, "id"), chi.URLParam(r, "mid"), req.X, req.Y); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetActive handles GET /api/active.
//
//	@Summary		Get the active session id
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	ActiveResponse
//	@Security		BearerAuth
//	@Router			/active [get]
func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ActiveResponse{SessionID: h.svc.ActiveID()})
}

// SetActive handles PUT /api/active.
//
//	@Summary		Switch the active session
//	@Tags			sessions
//	@Accept			json
//	@Param			body	body	ActiveRequest	true	"Session to activate, empty to clear"
//	@Success		204	"Active session switched"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/active [put]
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.SetActiveID(req.SessionID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSetting handles GET /api/settings/{key}.
//
//	@Summary		Get a persisted setting
//	@Tags			settings
//	@Produce		json
//	@Param			key	path		string	true	"Setting key"
//	@Success		200	{object}	SettingResponse
//	@Security		BearerAuth
//	@Router			/settings/{key} [get]
func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, http.StatusOK, SettingResponse{Key: key, Value: h.svc.Setting(key)})
}

// SetSetting handles PUT /api/settings/{key}.
//
//	@Summary		Set a persisted setting
//	@Tags			settings
//	@Accept			json
//	@Param			key		path	string			true	"Setting key"
//	@Param			body	body	SettingRequest	true	"New value"
//	@Success		204	"Setting stored"
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/{key} [put]
func (h *Handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.SetSetting(chi.URLParam(r, "key"), req.Value); err != nil {
		slog.Error("set setting failed", slog.String("key", chi.URLParam(r, "key")), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
