package main

import (
	"context"
	"errors"
	"net/http"

	"rexpro/internal/chat"
	"rexpro/internal/llm"
	"rexpro/internal/reasoning"
	"rexpro/internal/settings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ========== Streaming Endpoint ==========

// streamRequest is one prompt sent over the socket. Settings, when present,
// replace the saved settings for this prompt only.
type streamRequest struct {
	ChatID      string             `json:"chat_id"`
	Prompt      string             `json:"prompt"`
	Attachments []llm.Attachment   `json:"attachments,omitempty"`
	Settings    *settings.Settings `json:"settings,omitempty"`
}

type streamEvent struct {
	Type         string        `json:"type"` // update, done, error
	ChatID       string        `json:"chat_id,omitempty"`
	Visible      string        `json:"visible,omitempty"`
	Hidden       string        `json:"hidden,omitempty"`
	InsideHidden bool          `json:"inside_hidden,omitempty"`
	Message      *chat.Message `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and answers prompts one at a time
// until the client disconnects. A failed write cancels the model stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("failed to upgrade websocket")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("websocket read ended")
			}
			return
		}

		id := s.chatID(req.ChatID)
		st := s.requestSettings(req.Settings)
		if err := st.Normalize().Validate(); err != nil {
			if conn.WriteJSON(streamEvent{Type: "error", ChatID: id, Error: err.Error()}) != nil {
				return
			}
			continue
		}
		send := chat.SendRequest{
			Prompt:      req.Prompt,
			Attachments: req.Attachments,
			Settings:    st,
		}

		var writeErr error
		msg, err := s.responder.Send(ctx, id, send, func(state reasoning.StreamState) {
			if writeErr != nil {
				return
			}
			writeErr = conn.WriteJSON(streamEvent{
				Type:         "update",
				ChatID:       id,
				Visible:      state.Visible,
				Hidden:       state.Hidden,
				InsideHidden: state.InsideHidden,
			})
			if writeErr != nil {
				cancel()
			}
		})
		if writeErr != nil {
			logrus.WithError(writeErr).WithField("chat", id).Warn("client went away mid-stream")
			return
		}

		event := streamEvent{Type: "done", ChatID: id, Message: msg}
		if err != nil {
			event.Type = "error"
			event.Error = err.Error()
			if !errors.Is(err, chat.ErrGeneration) {
				event.Message = nil
			}
		}
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
