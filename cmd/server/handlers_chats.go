package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// ========== Chat Endpoints ==========

type chatIDRequest struct {
	ChatID string `json:"chat_id"`
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, map[string]interface{}{
			"chats":     s.chats.List(),
			"active_id": s.chats.Active(),
		})
	case http.MethodPost:
		sess, err := s.chats.Create()
		if err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResp(w, sess)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivateChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		jsonErr(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if err := s.chats.SetActive(req.ChatID); err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	sess, err := s.chats.Get(req.ChatID)
	if err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, sess)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		jsonErr(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if err := s.chats.Delete(req.ChatID); err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	if s.index != nil {
		if err := s.index.DeleteChat(r.Context(), req.ChatID); err != nil {
			logrus.WithError(err).WithField("chat", req.ChatID).Warn("failed to drop chat from search index")
		}
	}

	jsonResp(w, map[string]string{"status": "deleted", "active_id": s.chats.Active()})
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ChatID string `json:"chat_id"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" || strings.TrimSpace(req.Title) == "" {
		jsonErr(w, "chat_id and title are required", http.StatusBadRequest)
		return
	}
	if err := s.chats.Rename(req.ChatID, strings.TrimSpace(req.Title)); err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	sess, err := s.chats.Get(req.ChatID)
	if err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, sess)
}

// handleMessages returns the messages of ?chat_id=, or of the active chat.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := s.chatID(r.URL.Query().Get("chat_id"))
	if id == "" {
		jsonErr(w, "no active chat", http.StatusNotFound)
		return
	}
	sess, err := s.chats.Get(id)
	if err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, sess.Messages)
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ChatID          string `json:"chat_id"`
		MessageIndex    int    `json:"message_index"`
		AttachmentIndex int    `json:"attachment_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	id := s.chatID(req.ChatID)
	if err := s.chats.DeleteAttachment(id, req.MessageIndex, req.AttachmentIndex); err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, map[string]string{"status": "deleted"})
}

// handleTokens reports the token count of a chat against its model's context
// window.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := s.chatID(r.URL.Query().Get("chat_id"))
	st := s.settings.Get()
	if m := r.URL.Query().Get("model"); m != "" {
		st.Model = m
	}

	count, err := s.responder.CountTokens(r.Context(), id, st)
	if err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, map[string]interface{}{
		"model":  st.Model,
		"tokens": count,
		"max":    s.contextWindow(st.Model),
	})
}
