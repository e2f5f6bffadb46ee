package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

// Routes mounts the job protocol on r.
//
//	POST /jobs          create a job
//	GET  /jobs?jobId=   report a job
func (e *Engine) Routes(r chi.Router) {
	r.Post("/jobs", e.handleCreate)
	r.Get("/jobs", e.handleStatus)
}

// Handler returns the job protocol as a standalone handler.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	e.Routes(r)
	return r
}

func (e *Engine) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	handle, err := e.Create(req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, model.ErrInvalidInput):
			status = http.StatusBadRequest
		case errors.Is(err, model.ErrServiceUnavailable):
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": reasonOf(err)})
		return
	}

	writeJSON(w, http.StatusAccepted, handle)
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("jobId")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "jobId is required"})
		return
	}

	st, ok := e.Status(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func reasonOf(err error) string {
	var e *model.Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
