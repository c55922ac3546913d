package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/ragchat/internal/api"
	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/go-chi/chi/v5"
)

type IndexerStatusReader interface {
	IndexerStatus(ctx context.Context, indexer string) (*domain.IndexerStatus, error)
}

type IndexerHandler struct {
	status IndexerStatusReader
}

func NewIndexerHandler(status IndexerStatusReader) *IndexerHandler {
	return &IndexerHandler{status: status}
}

func (h *IndexerHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.IndexerStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if status.Name == "" {
		status.Name = chi.URLParam(r, "name")
	}
	api.Success(w, http.StatusOK, status)
}
