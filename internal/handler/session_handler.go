package handler

import (
	"net/http"

	"peerprep-collab/internal/config"
	"peerprep-collab/internal/domain"
	"peerprep-collab/pkg/response"
)

// SessionHandler hands clients the parameters their replicas should run
// with, so timeouts and the judge endpoint are tuned server-side.
type SessionHandler struct {
	cfg config.SessionConfig
}

func NewSessionHandler(cfg config.SessionConfig) *SessionHandler {
	return &SessionHandler{cfg: cfg}
}

type sessionParameters struct {
	InitTimeoutMs    int64             `json:"init_timeout_ms"`
	PendingTimeoutMs int64             `json:"pending_timeout_ms"`
	EvalTimeoutMs    int64             `json:"eval_timeout_ms"`
	EvaluatorURL     string            `json:"evaluator_url"`
	Languages        []domain.Language `json:"languages"`
}

func (h *SessionHandler) Parameters(w http.ResponseWriter, r *http.Request) {
	response.Success(w, sessionParameters{
		InitTimeoutMs:    h.cfg.InitTimeout.Milliseconds(),
		PendingTimeoutMs: h.cfg.PendingTimeout.Milliseconds(),
		EvalTimeoutMs:    h.cfg.EvalTimeout.Milliseconds(),
		EvaluatorURL:     h.cfg.EvaluatorURL,
		Languages:        domain.Languages,
	})
}
