package shipment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/httpx"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// Handler manages delivery note endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers delivery note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/requisitions/{id}/delivery-notes", h.handleCreate)
	r.Get("/requisitions/{id}/delivery-notes", h.handleListByRequisition)
	r.Get("/delivery-notes/{id}", h.handleGet)
	r.Post("/delivery-notes/{id}/in-transit", h.handleInTransit)
	r.Post("/delivery-notes/{id}/delivered", h.handleDelivered)
}

type createNoteRequest struct {
	Carrier string `json:"carrier"`
	Notes   string `json:"notes"`
	Lines   []struct {
		RequisitionItemID int64   `json:"requisition_item_id" validate:"required"`
		Qty               float64 `json:"qty" validate:"required,gt=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	requisitionID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req createNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{RequisitionID: requisitionID, Carrier: req.Carrier, Notes: req.Notes}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, NoteLineInput{RequisitionItemID: line.RequisitionItemID, Qty: line.Qty})
	}
	note, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.LogError(h.logger, "create delivery note", err, slog.Int64("requisition_id", requisitionID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": note.ID, "number": note.Number, "status": note.Status})
}

func (h *Handler) handleListByRequisition(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	requisitionID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	notes, err := h.service.ListByRequisition(r.Context(), requisitionID)
	if err != nil {
		httpx.LogError(h.logger, "list delivery notes", err, slog.Int64("requisition_id", requisitionID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": notes})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	note, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"delivery_note": note, "lines": lines})
}

func (h *Handler) handleInTransit(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, "mark in-transit", h.service.MarkInTransit)
}

func (h *Handler) handleDelivered(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, "mark delivered", h.service.MarkDelivered)
}

func (h *Handler) signal(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, shared.Actor, int64) error) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), actor, id); err != nil {
		httpx.LogError(h.logger, name, err, slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id})
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if !actor.Known() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor and warehouse headers required")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "numeric id required")
		return 0, false
	}
	return id, true
}
