package main

import (
	"encoding/json"
	"net/http"

	"rexpro/internal/tuning"
)

// ========== Tuning Endpoints ==========

func (s *Server) handleTuning(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		models := s.tuned.List()
		if models == nil {
			models = []tuning.TunedModel{}
		}
		jsonResp(w, map[string]interface{}{"models": models})

	case http.MethodPost:
		var req tuning.TunedModel
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		m, err := s.tuned.Start(req)
		if err != nil {
			jsonErr(w, err.Error(), statusFor(err))
			return
		}
		jsonResp(w, m)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpdateTuning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tuning.TunedModel
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		jsonErr(w, "id is required", http.StatusBadRequest)
		return
	}
	m, err := s.tuned.Update(req)
	if err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, m)
}

func (s *Server) handleDeleteTuning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		jsonErr(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.tuned.Delete(req.ID); err != nil {
		jsonErr(w, err.Error(), statusFor(err))
		return
	}
	jsonResp(w, map[string]string{"status": "deleted"})
}
