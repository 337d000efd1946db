package main

import (
	"net/http"
	"strconv"
	"strings"

	"rexpro/internal/files"
	"rexpro/internal/search"
)

const defaultSearchSize = 20

// ========== Files & Search Endpoints ==========

// handleFiles lists the uploads and generated files of a chat.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := s.chatID(r.URL.Query().Get("chat_id"))
	sess, err := s.chats.Get(id)
	if err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}

	generated := files.Generated(sess.Messages)
	if generated == nil {
		generated = []files.GeneratedFile{}
	}
	uploads := files.Uploads(sess.Messages)
	if uploads == nil {
		uploads = []files.Upload{}
	}
	jsonResp(w, map[string]interface{}{
		"chat_id":   sess.ID,
		"uploads":   uploads,
		"generated": generated,
	})
}

// handleSearch runs a full-text query over chat history. chat_id narrows it
// to one chat.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.index == nil {
		jsonErr(w, "search is not available", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		jsonErr(w, "q is required", http.StatusBadRequest)
		return
	}
	size := defaultSearchSize
	if n, err := strconv.Atoi(q.Get("size")); err == nil && n > 0 {
		size = n
	}

	results, err := s.index.Search(r.Context(), text, q.Get("chat_id"), size)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	jsonResp(w, map[string]interface{}{"results": results})
}
