package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/roast-orders/internal/apperror"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	manager       *Manager
	logger        *logrus.Logger
	exposeDetails bool
}

// NewHandler builds the HTTP surface. Store error text is only included in
// responses when exposeDetails is set (non-production environments).
func NewHandler(manager *Manager, logger *logrus.Logger, exposeDetails bool) *Handler {
	return &Handler{
		manager:       manager,
		logger:        logger,
		exposeDetails: exposeDetails,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	r.HandleFunc("/orders", h.ListOrders).Methods("GET")
	r.HandleFunc("/orders/{id}", h.UpdateOrder).Methods("PUT")
	r.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("PATCH")
	r.HandleFunc("/stock", h.GetStock).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd models.OrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cmd.CustomerName == "" {
		h.respondWithError(w, http.StatusBadRequest, "customer_name is required")
		return
	}

	result, err := h.manager.Create(r.Context(), cmd)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order created",
		Data:    result,
	})
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var cmd models.OrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.logger.WithError(err).Error("Failed to decode order update")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cmd.CustomerName == "" {
		h.respondWithError(w, http.StatusBadRequest, "customer_name is required")
		return
	}

	result, err := h.manager.Update(r.Context(), id, cmd)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order updated",
		Data:    result,
	})
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode status request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.manager.TransitionStatus(r.Context(), id, req.Status)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order status updated",
		Data:    order,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.manager.List(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Data:    orders,
	})
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	qty, err := h.manager.Stock(r.Context())
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Data: map[string]interface{}{
			"product":  h.manager.Product(),
			"quantity": qty,
		},
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.manager.Ping(ctx); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "order-service",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-service",
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, models.OrderResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithAppError maps the failure kind to a status and never uses raw
// store text as the message.
func (h *Handler) respondWithAppError(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)
	resp := models.OrderResponse{
		Success: false,
		Kind:    string(kind),
		Error:   "Transaction failed",
	}

	if appErr, ok := apperror.As(err); ok {
		if kind != apperror.TransactionFailure {
			resp.Error = appErr.Message
		}

		details := map[string]interface{}{}
		switch kind {
		case apperror.InsufficientStock:
			details["available"] = appErr.Available
			details["shortfall"] = appErr.Shortfall
		case apperror.DuplicateOrderNumber, apperror.InvalidSequenceFormat:
			details["order_number"] = appErr.OrderNumber
		}
		if h.exposeDetails && appErr.Detail() != "" {
			details["cause"] = appErr.Detail()
		}
		if len(details) > 0 {
			resp.Details = details
		}
	} else if h.exposeDetails {
		resp.Details = map[string]interface{}{"cause": err.Error()}
	}

	h.respondWithJSON(w, apperror.HTTPStatus(kind), resp)
}
