package websocket

import (
	"time"

	"github.com/stemsi/exstem-grader/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSaveAnswer Action = "save_answer"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SaveAnswerRequest is sent by the client to save a single answer.
type SaveAnswerRequest struct {
	Action Action            `json:"action"`
	QID    string            `json:"q_id"`
	Value  model.AnswerValue `json:"value"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event   Event     `json:"event"`
	QID     string    `json:"q_id"`
	SavedAt time.Time `json:"saved_at"`
}

// SubmittedResponse is sent after submit, and after a save that found the
// attempt past its deadline (Event is then EventExpired).
type SubmittedResponse struct {
	Event  Event              `json:"event"`
	State  model.AttemptState `json:"state"`
	Result *model.ResultView  `json:"result,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
