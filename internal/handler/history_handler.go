package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"peerprep-collab/internal/domain"
	"peerprep-collab/internal/history"
	"peerprep-collab/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// HistoryHandler exposes the persisted submission archive over REST.
// Participants fetch past attempts when a session starts and report
// resolved attempts when a verdict comes back.
type HistoryHandler struct {
	store    *history.CouchStore
	validate *validator.Validate
}

func NewHistoryHandler(store *history.CouchStore) *HistoryHandler {
	return &HistoryHandler{
		store:    store,
		validate: validator.New(),
	}
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	problemID := mux.Vars(r)["problem_id"]
	if problemID == "" {
		response.BadRequest(w, "problem_id is required")
		return
	}

	records, err := h.store.FetchSubmissionHistory(r.Context(), problemID)
	if err != nil {
		log.Printf("[History] Failed to fetch history for %s: %v", problemID, err)
		response.InternalError(w, "failed to fetch submission history")
		return
	}

	response.Success(w, records)
}

type saveSubmissionRequest struct {
	Time      time.Time               `json:"time" validate:"required"`
	AuthorID  string                  `json:"author_id" validate:"required"`
	Language  domain.Language         `json:"language" validate:"required"`
	Code      string                  `json:"code"`
	ProblemID string                  `json:"problem_id" validate:"required"`
	Result    domain.SubmissionResult `json:"result" validate:"required"`
}

func (h *HistoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rec := domain.SubmissionRecord{
		Time:      req.Time,
		AuthorID:  req.AuthorID,
		Language:  req.Language,
		Code:      req.Code,
		ProblemID: req.ProblemID,
		Result:    req.Result,
	}

	if err := h.store.SaveSubmission(r.Context(), rec); err != nil {
		log.Printf("[History] Failed to save submission: %v", err)
		response.InternalError(w, "failed to save submission")
		return
	}

	response.Created(w, rec)
}
