package accounts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/congregate/congregate/internal/platform/httpx"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/shared"
)

// Handler manages account endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gateway rbac.Gateway
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gateway rbac.Gateway) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gateway: gateway}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gateway.Require(rbac.Perm(shared.PermUsersView))).Get("/", h.list)
	r.With(h.gateway.Require(rbac.Perm(shared.PermUsersCreate))).Post("/", h.create)
	r.With(h.gateway.Require(rbac.Perm(shared.PermUsersImport))).Post("/import", h.importAccounts)
	r.With(h.gateway.Require(rbac.Perm(shared.PermUsersView))).Get("/{id}", h.get)
	r.With(h.gateway.Require(rbac.Perm(shared.PermUsersEdit))).Put("/{id}", h.update)
	r.With(h.gateway.Require(rbac.Perm(shared.PermUsersDelete))).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromQuery(r.URL.Query())
	res, err := h.service.List(r.Context(), ListFilter{Search: r.URL.Query().Get("q"), Page: page, PerPage: perPage})
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": account})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form AccountForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Create(r.Context(), form)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form AccountForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Update(r.Context(), id, form)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Delete(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "delete account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type importRequest struct {
	Users []json.RawMessage `json:"users"`
}

func (h *Handler) importAccounts(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Import(r.Context(), r.Header.Get("Idempotency-Key"), req.Users)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "import accounts", err)
		return
	}
	status := http.StatusOK
	if !summary.Clean() {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, summary)
}

func accountID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: account", shared.ErrNotFound)
	}
	return id, nil
}
