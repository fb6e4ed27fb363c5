package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/expensio/assistant/internal/assistant"
	"github.com/expensio/assistant/internal/domain"
)

// Handler exposes the assistant services over HTTP. Callers are identified
// by the X-User-ID and X-Entity-ID headers set by the upstream gateway.
type Handler struct {
	chats    *assistant.ChatService
	analyses *assistant.AnalyzeService
	logger   *slog.Logger
}

func NewHandler(chats *assistant.ChatService, analyses *assistant.AnalyzeService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chats: chats, analyses: analyses, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/v1/chats", func(r chi.Router) {
		r.Post("/", h.handleCreateChat)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/messages", h.handleHistory)
			r.Post("/messages", h.handleSend)
			r.Post("/documents/analyze", h.handleAnalyze)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID, entityID, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	chat, err := h.chats.CreateChat(r.Context(), userID, entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chats.History(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type sendRequest struct {
	Content string `json:"content"`
}

// handleSend streams a chat turn as SSE: one data frame per fragment, then
// a done frame carrying the persisted message ID and usage.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, entityID, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	result, err := h.chats.Send(r.Context(), chi.URLParam(r, "chatID"), userID, entityID, req.Content,
		func(delta string) {
			sse.Data(map[string]string{"content": delta})
		})
	if err != nil {
		AddLogField(r.Context(), "error", err.Error())
		sse.Event("error", errorBody(err.Error()))
		return
	}

	sse.Event("done", doneFrame(result.MessageID, result.Usage, false))
}

// handleAnalyze streams a document analysis as SSE. A warning frame marks
// the switch to text-only analysis after a vision failure; chunks received
// before it belong to the abandoned attempt.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, entityID, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	var params domain.DocumentAnalysisParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if params.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document_id is required"))
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	result, err := h.analyses.AnalyzeDocument(r.Context(), chi.URLParam(r, "chatID"), userID, entityID, params,
		assistant.AnalyzeEvents{
			OnChunk: func(chunk string) {
				sse.Data(map[string]string{"content": chunk})
			},
			OnVisionFallback: func() {
				sse.Event("warning", map[string]string{
					"message": "image analysis unavailable, analyzing text only",
				})
			},
		})
	if err != nil {
		AddLogField(r.Context(), "error", err.Error())
		sse.Event("error", errorBody(err.Error()))
		return
	}

	sse.Event("done", doneFrame(result.MessageID, result.Usage, result.VisionFallbackUsed))
}

// writeError maps service errors onto HTTP statuses for non-streaming
// endpoints.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddLogField(r.Context(), "error", err.Error())

	status := http.StatusInternalServerError
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrNoActiveChat):
		status = http.StatusBadRequest
	case errors.Is(err, assistant.ErrStreamInFlight):
		status = http.StatusConflict
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func callerIdentity(w http.ResponseWriter, r *http.Request) (userID, entityID string, ok bool) {
	userID = r.Header.Get("X-User-ID")
	entityID = r.Header.Get("X-Entity-ID")
	if userID == "" || entityID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("X-User-ID and X-Entity-ID headers are required"))
		return "", "", false
	}
	return userID, entityID, true
}

func doneFrame(messageID string, usage *domain.UsageRecord, visionFallback bool) map[string]any {
	frame := map[string]any{"message_id": messageID}
	if usage != nil {
		frame["usage"] = usage
	}
	if visionFallback {
		frame["vision_fallback_used"] = true
	}
	return frame
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
