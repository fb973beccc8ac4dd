package receiving

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/httpx"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/stockledger"
)

// Handler manages receiving session endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receiving/sessions", h.handleOpen)
	r.Get("/receiving/sessions/{id}", h.handleGet)
	r.Post("/receiving/sessions/{id}/items", h.handleAddItem)
	r.Delete("/receiving/sessions/{id}/items/{itemID}", h.handleRemoveItem)
	r.Post("/receiving/sessions/{id}/complete", h.handleComplete)
	r.Post("/receiving/sessions/{id}/abandon", h.handleAbandon)
}

type openRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req openRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	session, err := h.service.OpenSession(r.Context(), actor, req.Notes)
	if err != nil {
		httpx.LogError(h.logger, "open receiving session", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": session.ID, "status": session.Status})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	session, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"session": session, "items": items})
}

type addItemRequest struct {
	RequisitionID     int64   `json:"requisition_id" validate:"required"`
	RequisitionItemID int64   `json:"requisition_item_id" validate:"required"`
	Qty               float64 `json:"qty" validate:"required,gt=0"`
	Lot               string  `json:"lot"`
	Expiry            string  `json:"expiry"`
	Manufacturer      string  `json:"manufacturer"`
	Condition         string  `json:"condition" validate:"omitempty,oneof=GOOD DAMAGED EXPIRED"`
	Notes             string  `json:"notes"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var expiry time.Time
	if req.Expiry != "" {
		parsed, err := time.Parse("2006-01-02", req.Expiry)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry must be YYYY-MM-DD")
			return
		}
		expiry = parsed
	}
	item, err := h.service.AddItem(r.Context(), actor, id, ItemInput{
		RequisitionID:     req.RequisitionID,
		RequisitionItemID: req.RequisitionItemID,
		Qty:               req.Qty,
		Lot:               req.Lot,
		Expiry:            expiry,
		Manufacturer:      req.Manufacturer,
		Condition:         stockledger.Condition(req.Condition),
		Notes:             req.Notes,
	})
	if err != nil {
		httpx.LogError(h.logger, "add receiving item", err, slog.Int64("session_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": item.ID})
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	if err := h.service.RemoveItem(r.Context(), actor, id, itemID); err != nil {
		httpx.LogError(h.logger, "remove receiving item", err, slog.Int64("session_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": itemID})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Complete(r.Context(), actor, id); err != nil {
		httpx.LogError(h.logger, "complete receiving session", err, slog.Int64("session_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": SessionCompleted})
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Abandon(r.Context(), actor, id); err != nil {
		httpx.LogError(h.logger, "abandon receiving session", err, slog.Int64("session_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": SessionAbandoned})
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if !actor.Known() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor and warehouse headers required")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "numeric id required")
		return 0, false
	}
	return id, true
}
