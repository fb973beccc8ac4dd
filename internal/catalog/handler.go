package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/httpx"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// Handler manages catalog endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/drugs", h.handleList)
	r.Post("/drugs", h.handleCreate)
	r.Get("/drugs/{id}", h.handleGet)
	r.Put("/drugs/{id}", h.handleUpdate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	drugs, total, err := h.service.List(r.Context(), limit, offset, r.URL.Query().Get("search"))
	if err != nil {
		httpx.LogError(h.logger, "list drugs", err)
		httpx.RespondError(w, err)
		return
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"items": drugs, "total": total, "page": page.Page, "per_page": page.PerPage, "total_pages": page.TotalPages})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "numeric id required")
		return
	}
	drug, err := h.service.Resolve(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, drug)
}

type drugRequest struct {
	Code         string  `json:"code" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	GenericName  string  `json:"generic_name"`
	Unit         string  `json:"unit" validate:"required"`
	IsControlled bool    `json:"is_controlled"`
	DefaultPrice float64 `json:"default_price" validate:"gte=0"`
	IsActive     *bool   `json:"is_active"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req drugRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	drug, err := h.service.Create(r.Context(), Drug{
		Code:         req.Code,
		Name:         req.Name,
		GenericName:  req.GenericName,
		Unit:         req.Unit,
		IsControlled: req.IsControlled,
		DefaultPrice: req.DefaultPrice,
	})
	if err != nil {
		httpx.LogError(h.logger, "create drug", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, drug)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "numeric id required")
		return
	}
	var req drugRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	drug := Drug{
		ID:           id,
		Name:         req.Name,
		GenericName:  req.GenericName,
		Unit:         req.Unit,
		IsControlled: req.IsControlled,
		DefaultPrice: req.DefaultPrice,
		IsActive:     active,
	}
	if err := h.service.Update(r.Context(), drug); err != nil {
		httpx.LogError(h.logger, "update drug", err, slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id})
}
