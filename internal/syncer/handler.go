package syncer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopledger/shopledger/internal/platform/httpx"
	"github.com/shopledger/shopledger/internal/remote"
)

// ErrInvalidConfig is returned by Configure for a malformed endpoint or token.
var ErrInvalidConfig = errors.New("syncer: invalid remote configuration")

// Controller is the sync surface exposed over HTTP.
type Controller interface {
	Status() Status
	Reconcile(ctx context.Context) (Result, error)
	ForcePush(ctx context.Context) error
	ForcePull(ctx context.Context) error
	Activate()
	Configure(ctx context.Context, endpoint, token string) error
}

var errorRules = []httpx.Rule{
	{Target: ErrInvalidConfig, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
	{Target: ErrInFlight, Status: http.StatusConflict},
	{Target: ErrOffline, Status: http.StatusConflict},
	{Target: ErrRemoteEmpty, Status: http.StatusConflict},
	{Target: remote.ErrAuth, Status: http.StatusBadGateway},
	{Target: remote.ErrProtocol, Status: http.StatusBadGateway},
	{Target: remote.ErrRemoteRejected, Status: http.StatusBadGateway},
	{Target: remote.ErrTransport, Status: http.StatusBadGateway},
	{Target: context.DeadlineExceeded, Status: http.StatusGatewayTimeout},
}

// Handler wires HTTP endpoints for sync control.
type Handler struct {
	logger     *slog.Logger
	controller Controller
}

// NewHandler constructs sync handler.
func NewHandler(logger *slog.Logger, controller Controller) *Handler {
	return &Handler{logger: logger, controller: controller}
}

// MountRoutes registers sync routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status", h.status)
	r.Put("/config", h.configure)
	r.Post("/reconcile", h.reconcile)
	r.Post("/push", h.push)
	r.Post("/pull", h.pull)
	r.Post("/activate", h.activate)
}

type configRequest struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

type reconcileResponse struct {
	Result Result `json:"result"`
	Status Status `json:"status"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) configure(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.controller.Configure(r.Context(), req.Endpoint, req.Token); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.controller.Reconcile(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reconcileResponse{Result: result, Status: h.controller.Status()})
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.ForcePush(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.ForcePull(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.controller.Activate()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	httpx.RespondError(w, h.logger, err, errorRules...)
}
