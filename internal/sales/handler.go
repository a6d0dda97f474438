package sales

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
)

var errorRules = []httpx.Rule{
	{Target: ErrEstimateNotFound, Status: http.StatusNotFound},
	{Target: ErrPaymentNotFound, Status: http.StatusNotFound},
	{Target: ErrInvalidTransition, Status: http.StatusConflict},
	{Target: ErrInvoiceNumberImmutable, Status: http.StatusConflict},
	{Target: ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
}

// Handler wires HTTP endpoints for estimates and invoices.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers estimate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.save)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.save)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/revert", h.revert)
	r.Delete("/{id}/payments/{paymentID}", h.deletePayment)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	estimates, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if estimates == nil {
		estimates = []Estimate{}
	}
	httpx.JSON(w, http.StatusOK, estimates)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	est, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	var input Estimate
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.fail(w, err)
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		if input.ID != "" && input.ID != id {
			h.fail(w, fmt.Errorf("%w: id mismatch", httpx.ErrBadRequest))
			return
		}
		input.ID = id
		status = http.StatusOK
	}
	est, err := h.service.Save(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, status, est)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	est, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

func (h *Handler) revert(w http.ResponseWriter, r *http.Request) {
	est, err := h.service.RevertToDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	est, err := h.service.DeletePayment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, est)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorRules...)
}
