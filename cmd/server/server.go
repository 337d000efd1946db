package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"rexpro/internal/chat"
	"rexpro/internal/llm"
	"rexpro/internal/search"
	"rexpro/internal/settings"
	"rexpro/internal/tuning"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server holds all shared state.
type Server struct {
	chats     *chat.Store
	responder *chat.Responder
	tuned     *tuning.Registry
	index     *search.Index
	settings  *settings.Store
	upgrader  websocket.Upgrader
}

func newServer(chats *chat.Store, tuned *tuning.Registry, index *search.Index, st *settings.Store, providers chat.ProviderFunc, carryOver bool) *Server {
	if providers == nil {
		providers = providerFor
	}
	return &Server{
		chats: chats,
		responder: &chat.Responder{
			Store:     chats,
			Provider:  providers,
			Tuned:     tuned,
			Index:     index,
			CarryOver: carryOver,
		},
		tuned:    tuned,
		index:    index,
		settings: st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// routes registers every endpoint on a new mux. staticDir is served at "/"
// when non-empty.
func (s *Server) routes(staticDir string) *http.ServeMux {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("/api/chats", s.handleChats)
	mux.HandleFunc("/api/chats/activate", s.handleActivateChat)
	mux.HandleFunc("/api/chats/delete", s.handleDeleteChat)
	mux.HandleFunc("/api/chats/rename", s.handleRenameChat)
	mux.HandleFunc("/api/chats/messages", s.handleMessages)
	mux.HandleFunc("/api/chats/attachments/delete", s.handleDeleteAttachment)
	mux.HandleFunc("/api/chat/stream", s.handleStream)
	mux.HandleFunc("/api/tokens", s.handleTokens)

	// Models & settings
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/settings", s.handleSettings)

	// Tuning endpoints
	mux.HandleFunc("/api/tuning", s.handleTuning)
	mux.HandleFunc("/api/tuning/update", s.handleUpdateTuning)
	mux.HandleFunc("/api/tuning/delete", s.handleDeleteTuning)

	// Files & search
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/search", s.handleSearch)

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

// providerFor builds the vendor client selected by the settings.
func providerFor(ctx context.Context, st settings.Settings) (llm.Provider, error) {
	baseURL := ""
	if strings.EqualFold(st.Provider, "openai") {
		baseURL = st.OpenAIBaseURL
	}
	return llm.NewProvider(ctx, st.Provider, st.APIKey(), baseURL)
}

// requestSettings applies client-sent settings over the saved ones. API keys
// always come from the saved settings. Callers validate the result.
func (s *Server) requestSettings(override *settings.Settings) settings.Settings {
	saved := s.settings.Get()
	if override == nil {
		return saved
	}
	next := *override
	next.GeminiAPIKey = saved.GeminiAPIKey
	next.OpenAIAPIKey = saved.OpenAIAPIKey
	next.OpenAIBaseURL = saved.OpenAIBaseURL
	if next.Provider == "" {
		next.Provider = saved.Provider
	}
	return next
}

// chatID returns id, or the active chat when id is empty.
func (s *Server) chatID(id string) string {
	if id != "" {
		return id
	}
	return s.chats.Active()
}

// statusFor maps package errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, tuning.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, chat.ErrOutOfRange), errors.Is(err, chat.ErrEmptyPrompt),
		errors.Is(err, tuning.ErrInvalidSpec), errors.Is(err, settings.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write response")
	}
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
