package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/pkg/errors"
)

// RunExtractionRequest is the body for POST /admin/v1/extraction/run.
type RunExtractionRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ExtractionStatusResponse reports the extraction backlog.
type ExtractionStatusResponse struct {
	PendingCount      int  `json:"pending_count"`
	ExtractionEnabled bool `json:"extraction_enabled"`
}

// ExtractionStatus handles GET /admin/v1/extraction/status.
func (h *Handler) ExtractionStatus(w http.ResponseWriter, r *http.Request) {
	count, err := h.extractor.PendingCount(r.Context())
	if err != nil {
		h.logger.Error("failed to count pending turns", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to count pending turns")
		return
	}

	writeJSON(w, http.StatusOK, ExtractionStatusResponse{
		PendingCount:      count,
		ExtractionEnabled: h.cfg.Memory.Extraction.Enabled,
	})
}

// RunExtraction handles POST /admin/v1/extraction/run. It processes pending
// turns synchronously and reports batch statistics.
func (h *Handler) RunExtraction(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Memory.Extraction.Enabled {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest,
			"memory extraction is disabled")
		return
	}

	var req RunExtractionRequest
	if r.Body != nil {
		// An empty body means default limit.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	stats, err := h.extractor.ProcessBatch(r.Context(), req.Limit)
	if err != nil {
		h.logger.Error("batch extraction failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "extraction failed: "+err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.ExtractionsTotal.WithLabelValues("completed").Add(float64(stats.Completed))
		h.metrics.ExtractionsTotal.WithLabelValues("skipped").Add(float64(stats.Skipped))
		h.metrics.ExtractionsTotal.WithLabelValues("failed").Add(float64(stats.Failed))
	}

	writeJSON(w, http.StatusOK, stats)
}
