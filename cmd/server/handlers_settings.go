package main

import (
	"encoding/json"
	"net/http"

	"rexpro/internal/llm"

	"github.com/sirupsen/logrus"
)

// ========== Settings Endpoint ==========

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, s.settings.Get().Masked())

	case http.MethodPost:
		next := s.settings.Get()
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			jsonErr(w, "Invalid request", http.StatusBadRequest)
			return
		}
		saved, err := s.settings.Update(next)
		if err != nil {
			jsonErr(w, err.Error(), statusFor(err))
			return
		}

		logrus.WithFields(logrus.Fields{
			"provider": saved.Provider,
			"model":    saved.Model,
		}).Info("settings updated")
		jsonResp(w, saved.Masked())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ========== Models Endpoint ==========

// handleModels lists the base models followed by completed tuned models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	options := make([]llm.ModelOption, 0, len(llm.Models))
	options = append(options, llm.Models...)
	for _, m := range s.tuned.Completed() {
		options = append(options, llm.ModelOption{
			ID:        m.ID,
			Name:      m.DisplayName,
			MaxTokens: llm.ContextWindow(m.BaseModel),
		})
	}
	jsonResp(w, map[string]interface{}{
		"models":  options,
		"default": llm.DefaultModel,
	})
}

// contextWindow resolves tuned models to their base model's window.
func (s *Server) contextWindow(model string) int {
	if llm.IsTunedModel(model) {
		if m, err := s.tuned.Get(model); err == nil {
			model = m.BaseModel
		} else {
			model = llm.DefaultModel
		}
	}
	return llm.ContextWindow(model)
}
