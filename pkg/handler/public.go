package handler

import (
	"net/http"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
	Error    string `json:"error,omitempty"`
}

type syncResponse struct {
	Status      string `json:"status"`
	FilesQueued int    `json:"files_queued"`
}

type documentResponse struct {
	Title *string `json:"title"`
	Date  *string `json:"date"`
	File  string  `json:"file"`
}

// Health reports whether the database and Redis answer.
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	health := h.service.CheckHealth(r.Context())

	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Database: health.Database,
			Redis:    health.Redis,
			Error:    "Unhealthy: " + health.Err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "healthy",
		Database: health.Database,
		Redis:    health.Redis,
	})
}

// Sync enqueues the new PDF attachments of a channel.
func (h *PublicHandler) Sync(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	channelID := pathParams["channel_id"]

	result, err := h.service.Sync(r.Context(), channelID)
	if err != nil {
		h.log.Error("Sync failed", zap.String("channelID", channelID), zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Status:      "sync_initiated",
		FilesQueued: result.Queued,
	})
}

// ListDocuments returns the stored documents, filtered by the query
// parameter when present.
func (h *PublicHandler) ListDocuments(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	docs, err := h.service.ListDocuments(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		h.log.Error("ListDocuments failed", zap.Error(err))
		writeError(w, err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, documentResponse{
			Title: doc.Title,
			Date:  doc.Date,
			File:  doc.File,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
