package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/backend"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/middleware"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

// maxDocumentBytes bounds an uploaded PDF.
const maxDocumentBytes = 20 << 20

// Knowledge manages the indexed sources answers cite.
type Knowledge interface {
	ListURLs(ctx context.Context) (*backend.Listing, error)
	AddURL(ctx context.Context, raw string) (*backend.Ingestion, error)
	DeleteURL(ctx context.Context, raw string) (*backend.Ingestion, error)
	ListDocuments(ctx context.Context) (*backend.Listing, error)
	AddDocument(ctx context.Context, name string, data []byte) (*backend.Ingestion, error)
	DeleteDocument(ctx context.Context, name string) (*backend.Ingestion, error)
	CitationAnalytics(ctx context.Context, q backend.CitationQuery) (*backend.CitationReport, error)
}

// KnowledgeHandler handles knowledge-base endpoints.
type KnowledgeHandler struct {
	knowledge Knowledge
	logger    *logger.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(k Knowledge, log *logger.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: k, logger: logger.OrNop(log).Named("knowledge")}
}

// URLRequest names a page.
type URLRequest struct {
	URL string `json:"url"`
}

// ListURLs handles GET /api/v1/urls
func (h *KnowledgeHandler) ListURLs(w http.ResponseWriter, r *http.Request) {
	v, err := h.knowledge.ListURLs(r.Context())
	respond(w, http.StatusOK, v, err)
}

// AddURL handles POST /api/v1/urls
func (h *KnowledgeHandler) AddURL(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	v, err := h.knowledge.AddURL(r.Context(), req.URL)
	respond(w, http.StatusAccepted, v, err)
}

// DeleteURL handles DELETE /api/v1/urls?url=
func (h *KnowledgeHandler) DeleteURL(w http.ResponseWriter, r *http.Request) {
	v, err := h.knowledge.DeleteURL(r.Context(), r.URL.Query().Get("url"))
	respond(w, http.StatusOK, v, err)
}

// ListDocuments handles GET /api/v1/documents
func (h *KnowledgeHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	v, err := h.knowledge.ListDocuments(r.Context())
	respond(w, http.StatusOK, v, err)
}

// AddDocument handles POST /api/v1/documents as a multipart upload with
// the PDF in the "file" field.
func (h *KnowledgeHandler) AddDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, model.InvalidInput("add-document", "a PDF file is required"))
		return
	}
	defer file.Close()

	if err := middleware.ValidateDocumentName(header.Filename); err != nil {
		writeFailure(w, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes+1))
	if err != nil {
		writeFailure(w, model.InvalidInput("add-document", "could not read upload"))
		return
	}
	if len(data) > maxDocumentBytes {
		writeFailure(w, model.InvalidInput("add-document", "document is larger than 20MB"))
		return
	}

	v, err := h.knowledge.AddDocument(r.Context(), header.Filename, data)
	respond(w, http.StatusAccepted, v, err)
}

// DeleteDocument handles DELETE /api/v1/documents/{name}
func (h *KnowledgeHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := middleware.ValidateID("document", name); err != nil {
		writeFailure(w, err)
		return
	}
	v, err := h.knowledge.DeleteDocument(r.Context(), name)
	respond(w, http.StatusOK, v, err)
}

// Citations handles GET /api/v1/analytics/citations
func (h *KnowledgeHandler) Citations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, err := h.knowledge.CitationAnalytics(r.Context(), backend.CitationQuery{
		ConversationID: q.Get("conversation_id"),
		DateFrom:       q.Get("date_from"),
		DateTo:         q.Get("date_to"),
	})
	respond(w, http.StatusOK, v, err)
}

// respond writes v with status, or the mapped failure.
func respond(w http.ResponseWriter, status int, v interface{}, err error) {
	if err != nil {
		var me *model.Error
		if !errors.As(err, &me) {
			err = &model.Error{Kind: model.KindRequestRejected, Err: err}
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, status, v)
}
