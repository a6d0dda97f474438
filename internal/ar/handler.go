package ar

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/sales"
)

var errorRules = []httpx.Rule{
	{Target: sales.ErrEstimateNotFound, Status: http.StatusNotFound},
	{Target: ErrTargetNotConfirmed, Status: http.StatusConflict},
	{Target: ErrInvalidAmount, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
	{Target: ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
}

// Handler exposes payment allocation and the customer ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs ar handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountPaymentRoutes registers routes nested under an estimate.
func (h *Handler) MountPaymentRoutes(r chi.Router) {
	r.Post("/{id}/payments", h.allocate)
}

// MountLedgerRoutes registers the ledger report.
func (h *Handler) MountLedgerRoutes(r chi.Router) {
	r.Get("/", h.ledger)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var payment Payment
	if err := httpx.DecodeJSON(w, r, &payment); err != nil {
		h.fail(w, err)
		return
	}
	allocation, err := h.service.AllocatePayment(r.Context(), chi.URLParam(r, "id"), payment)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allocation)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.fail(w, errors.Join(httpx.ErrBadRequest, err))
			return
		}
		asOf = parsed
	}
	rows, err := h.service.Ledger(r.Context(), asOf)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorRules...)
}
