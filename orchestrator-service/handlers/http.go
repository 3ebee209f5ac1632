package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/mercato/order-system/orchestrator-service/application"
	"github.com/mercato/order-system/orchestrator-service/domain"
)

// OrchestratorHandlers contains orchestrator HTTP handlers
type OrchestratorHandlers struct {
	placeOrder        *application.PlaceOrder
	getWorkflowStatus *application.GetWorkflowStatus
	listWorkflows     *application.ListWorkflows
}

// NewOrchestratorHandlers creates new orchestrator handlers
func NewOrchestratorHandlers(
	placeOrder *application.PlaceOrder,
	getWorkflowStatus *application.GetWorkflowStatus,
	listWorkflows *application.ListWorkflows,
) *OrchestratorHandlers {
	return &OrchestratorHandlers{
		placeOrder:        placeOrder,
		getWorkflowStatus: getWorkflowStatus,
		listWorkflows:     listWorkflows,
	}
}

// PlaceOrder handles purchase order requests. The request blocks until the
// workflow reaches a terminal status.
func (h *OrchestratorHandlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.PlaceOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.placeOrder.Execute(r.Context(), &cmd)
	if err != nil {
		if strings.Contains(err.Error(), "invalid command") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "FAILED",
			"message": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GetWorkflow handles workflow status retrieval requests
func (h *OrchestratorHandlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")
	if workflowID == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	query := &application.GetWorkflowStatusQuery{
		WorkflowID: workflowID,
	}

	response, err := h.getWorkflowStatus.Execute(r.Context(), query)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListWorkflows handles workflow listing requests
func (h *OrchestratorHandlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	response, err := h.listWorkflows.Execute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers orchestrator routes
func (h *OrchestratorHandlers) RegisterRoutes(r chi.Router) {
	r.Post("/purchase", h.PlaceOrder)
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.ListWorkflows)
		r.Get("/{id}", h.GetWorkflow)
	})
}
