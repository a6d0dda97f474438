package inventory

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
)

var errorRules = []httpx.Rule{
	{Target: ErrItemNotFound, Status: http.StatusNotFound},
	{Target: ErrItemExists, Status: http.StatusConflict},
	{Target: ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
}

// Handler wires HTTP endpoints for the inventory list.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.add)
	r.Post("/import", h.importItems)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	var input Item
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.fail(w, err)
		return
	}
	item, err := h.service.Add(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) importItems(w http.ResponseWriter, r *http.Request) {
	var inputs []Item
	if err := httpx.DecodeJSON(w, r, &inputs); err != nil {
		h.fail(w, err)
		return
	}
	result, err := h.service.Import(r.Context(), inputs)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var input Item
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if input.ID != "" && input.ID != id {
		h.fail(w, fmt.Errorf("%w: id mismatch", httpx.ErrBadRequest))
		return
	}
	input.ID = id
	item, err := h.service.Update(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorRules...)
}
