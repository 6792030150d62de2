package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func (h *Handler) createServiceItem(w http.ResponseWriter, r *http.Request) {
	var req contracts.ServiceItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	item, err := h.service.CreateServiceItem(r.Context(), actorFromContext(r.Context()), application.ServiceItemInput{
		Code:            req.Code,
		Name:            req.Name,
		Category:        req.Category,
		PriceCents:      req.PriceCents,
		Currency:        req.Currency,
		DefaultSessions: req.DefaultSessions,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_service_item", err)
		return
	}
	writeSuccess(w, http.StatusCreated, item)
}

func (h *Handler) listServiceItems(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	items, err := h.service.ListServiceItems(r.Context(), actorFromContext(r.Context()), optionalBool(r.URL.Query().Get("active")), limit, offset)
	if err != nil {
		h.writeDomainError(w, r, "list_service_items", err)
		return
	}
	writeSuccess(w, http.StatusOK, items)
}

func (h *Handler) getServiceItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetServiceItem(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.writeDomainError(w, r, "get_service_item", err)
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

func (h *Handler) updateServiceItem(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpdateServiceItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	item, err := h.service.UpdateServiceItem(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "serviceID"), application.UpdateServiceItemInput{
		Name:            req.Name,
		Category:        req.Category,
		PriceCents:      req.PriceCents,
		DefaultSessions: req.DefaultSessions,
		Active:          req.Active,
	})
	if err != nil {
		h.writeDomainError(w, r, "update_service_item", err)
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

func (h *Handler) deactivateServiceItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.DeactivateServiceItem(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.writeDomainError(w, r, "deactivate_service_item", err)
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

func (h *Handler) createEvaluation(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateEvaluationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	eval, err := h.service.CreateEvaluation(r.Context(), actorFromContext(r.Context()), req.EpisodeID, req.TraineeID)
	if err != nil {
		h.writeDomainError(w, r, "create_evaluation", err)
		return
	}
	writeSuccess(w, http.StatusCreated, eval)
}

func (h *Handler) listEvaluations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	evals, err := h.service.ListEvaluations(r.Context(), actorFromContext(r.Context()), strings.TrimSpace(r.URL.Query().Get("episode_id")), limit, offset)
	if err != nil {
		h.writeDomainError(w, r, "list_evaluations", err)
		return
	}
	writeSuccess(w, http.StatusOK, evals)
}

func (h *Handler) getEvaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := h.service.GetEvaluation(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "evaluationID"))
	if err != nil {
		h.writeDomainError(w, r, "get_evaluation", err)
		return
	}
	writeSuccess(w, http.StatusOK, eval)
}

func (h *Handler) scoreEvaluation(w http.ResponseWriter, r *http.Request) {
	var req contracts.ScoreEvaluationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	eval, err := h.service.ScoreEvaluation(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "evaluationID"), req.Scores, req.Comments)
	if err != nil {
		h.writeDomainError(w, r, "score_evaluation", err)
		return
	}
	writeSuccess(w, http.StatusOK, eval)
}

func (h *Handler) signOffEvaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := h.service.SignOffEvaluation(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "evaluationID"))
	if err != nil {
		h.writeDomainError(w, r, "sign_off_evaluation", err)
		return
	}
	writeSuccess(w, http.StatusOK, eval)
}

func (h *Handler) createInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req contracts.InventoryItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	item, err := h.service.CreateInventoryItem(r.Context(), actorFromContext(r.Context()), application.InventoryItemInput{
		SKU:          req.SKU,
		Name:         req.Name,
		Unit:         req.Unit,
		Quantity:     req.Quantity,
		ReorderLevel: req.ReorderLevel,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_inventory_item", err)
		return
	}
	writeSuccess(w, http.StatusCreated, item)
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	items, err := h.service.ListInventory(r.Context(), actorFromContext(r.Context()), limit, offset)
	if err != nil {
		h.writeDomainError(w, r, "list_inventory", err)
		return
	}
	writeSuccess(w, http.StatusOK, items)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.LowStock(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, "low_stock", err)
		return
	}
	writeSuccess(w, http.StatusOK, items)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req contracts.AdjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	item, err := h.service.AdjustStock(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "itemID"), req.Delta, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, "adjust_stock", err)
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

func (h *Handler) uploadConsentDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "consent document is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file is required")
		return
	}
	defer file.Close()

	doc, err := h.service.UploadConsentDocument(r.Context(), actorFromContext(r.Context()), application.UploadConsentInput{
		PatientID:   strings.TrimSpace(r.FormValue("patient_id")),
		EpisodeID:   strings.TrimSpace(r.FormValue("episode_id")),
		Kind:        strings.TrimSpace(r.FormValue("kind")),
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		h.writeDomainError(w, r, "upload_consent_document", err)
		return
	}
	writeSuccess(w, http.StatusCreated, doc)
}

func (h *Handler) listConsentDocuments(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	q := r.URL.Query()
	docs, err := h.service.ListConsentDocuments(r.Context(), actorFromContext(r.Context()), application.ConsentDocumentFilter{
		PatientID: strings.TrimSpace(q.Get("patient_id")),
		EpisodeID: strings.TrimSpace(q.Get("episode_id")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.writeDomainError(w, r, "list_consent_documents", err)
		return
	}
	writeSuccess(w, http.StatusOK, docs)
}

func (h *Handler) stageFunnel(w http.ResponseWriter, r *http.Request) {
	funnel, err := h.service.StageFunnel(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, "stage_funnel", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.StageFunnelResponse{
		Stages: stageCounts(funnel.Stages),
		Total:  funnel.Total,
	})
}

func (h *Handler) operationalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.OperationalSummary(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, "operational_summary", err)
		return
	}
	writeSuccess(w, http.StatusOK, summary)
}

func stageCounts(in map[domain.Stage]int) map[string]int {
	out := make(map[string]int, len(in))
	for stage, n := range in {
		out[string(stage)] = n
	}
	return out
}
