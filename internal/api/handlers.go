package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/olgkv/llm-telegram-bot/internal/core"
	"github.com/olgkv/llm-telegram-bot/internal/store"
)

type contextKey string

const profileKey contextKey = "profile"

type APIHandler struct {
	chatService   *core.ChatService
	ingestService *core.IngestService
	retriever     *core.Retriever
}

func NewAPIHandler(cs *core.ChatService, is *core.IngestService, r *core.Retriever) *APIHandler {
	return &APIHandler{chatService: cs, ingestService: is, retriever: r}
}

// UserMiddleware resolves the {externalID} path segment into a user profile
// stored on the request context.
func (h *APIHandler) UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID, err := strconv.ParseInt(chi.URLParam(r, "externalID"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid user id", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), profileKey, store.UserProfile{ExternalID: externalID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func profileFrom(r *http.Request) store.UserProfile {
	profile, _ := r.Context().Value(profileKey).(store.UserProfile)
	return profile
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

type ReplyResponse struct {
	Reply string `json:"reply"`
}

func (h *APIHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	profile := profileFrom(r)
	if r.Body != http.NoBody {
		var req PostMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			profile = req.applyTo(profile)
		}
	}

	reply, err := h.chatService.Start(r.Context(), profile)
	if err != nil {
		slog.Error("start failed", "user", profile.ExternalID, "err", err)
		http.Error(w, "Failed to start conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ReplyResponse{Reply: reply})
}

type PostMessageRequest struct {
	Content   string `json:"content"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (req PostMessageRequest) applyTo(profile store.UserProfile) store.UserProfile {
	profile.Username = req.Username
	profile.FirstName = req.FirstName
	profile.LastName = req.LastName
	return profile
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}
	profile := req.applyTo(profileFrom(r))

	reply, err := h.chatService.Reply(r.Context(), profile, req.Content)
	if err != nil {
		slog.Error("reply failed", "user", profile.ExternalID, "err", err)
		http.Error(w, "Failed to post message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ReplyResponse{Reply: reply})
}

func (h *APIHandler) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	profile := profileFrom(r)
	turns, err := h.chatService.History(r.Context(), profile)
	if err != nil {
		slog.Error("listing history failed", "user", profile.ExternalID, "err", err)
		http.Error(w, "Failed to get history", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (h *APIHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	profile := profileFrom(r)
	notice, err := h.chatService.Clear(r.Context(), profile)
	if err != nil {
		slog.Error("clearing history failed", "user", profile.ExternalID, "err", err)
		http.Error(w, "Failed to clear history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ReplyResponse{Reply: notice})
}

type StatsResponse struct {
	core.Stats
	Text string `json:"text"`
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	profile := profileFrom(r)
	st, err := h.chatService.Stats(r.Context(), profile)
	if err != nil {
		slog.Error("stats failed", "user", profile.ExternalID, "err", err)
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Stats: st, Text: core.FormatStats(st)})
}

type CreateDocumentRequest struct {
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

func (h *APIHandler) CreateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Title and text are required", http.StatusBadRequest)
		return
	}

	res, err := h.ingestService.Ingest(r.Context(), req.Title, req.Source, req.Text)
	if err != nil {
		slog.Error("ingestion failed", "title", req.Title, "err", err)
		http.Error(w, "Failed to ingest document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.ingestService.ListDocuments(r.Context())
	if err != nil {
		slog.Error("listing documents failed", "err", err)
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.ParseInt(chi.URLParam(r, "documentID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid document id", http.StatusBadRequest)
		return
	}

	deleted, err := h.ingestService.DeleteDocument(r.Context(), documentID)
	if err != nil {
		slog.Error("deleting document failed", "document", documentID, "err", err)
		http.Error(w, "Failed to delete document", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SearchDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		http.Error(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Query parameter k must be a positive integer", http.StatusBadRequest)
			return
		}
		k = parsed
	}

	results, err := h.retriever.Retrieve(r.Context(), query, k)
	if err != nil {
		slog.Error("search failed", "err", err)
		http.Error(w, "Failed to search documents", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []core.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, results)
}
