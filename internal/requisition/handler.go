package requisition

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/httpx"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// Handler manages requisition endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	approvals *shared.ApprovalRecorder
	validate  *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, approvals *shared.ApprovalRecorder) *Handler {
	return &Handler{logger: logger, service: service, approvals: approvals, validate: validator.New()}
}

// MountRoutes registers requisition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/requisitions", h.handleList)
	r.Post("/requisitions", h.handleCreate)
	r.Get("/requisitions/{id}", h.handleGet)
	r.Get("/requisitions/{id}/chain", h.handleChain)
	r.Post("/requisitions/{id}/submit", h.handleSubmit)
	r.Post("/requisitions/{id}/approve", h.handleApprove)
	r.Post("/requisitions/{id}/reject", h.handleReject)
	r.Post("/requisitions/{id}/cancel", h.handleCancel)
}

type lineRequest struct {
	DrugID    int64   `json:"drug_id" validate:"required"`
	Unit      string  `json:"unit"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createRequest struct {
	Number                string        `json:"number"`
	Type                  string        `json:"type"`
	Priority              string        `json:"priority"`
	FulfillingWarehouseID int64         `json:"fulfilling_warehouse_id" validate:"required"`
	RequestingWarehouseID int64         `json:"requesting_warehouse_id" validate:"required"`
	Purpose               string        `json:"purpose"`
	Lines                 []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{
		Number:                req.Number,
		Type:                  Type(req.Type),
		Priority:              Priority(req.Priority),
		FulfillingWarehouseID: req.FulfillingWarehouseID,
		RequestingWarehouseID: req.RequestingWarehouseID,
		Purpose:               req.Purpose,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{DrugID: line.DrugID, Unit: line.Unit, Qty: line.Qty, UnitPrice: line.UnitPrice})
	}
	created, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.LogError(h.logger, "create requisition", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": created.ID, "number": created.Number, "status": created.Status})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	fulfillingID, _ := strconv.ParseInt(r.URL.Query().Get("fulfilling_warehouse_id"), 10, 64)
	requestingID, _ := strconv.ParseInt(r.URL.Query().Get("requesting_warehouse_id"), 10, 64)
	filters := ListFilters{
		Status:                Status(r.URL.Query().Get("status")),
		Type:                  Type(r.URL.Query().Get("type")),
		FulfillingWarehouseID: fulfillingID,
		RequestingWarehouseID: requestingID,
		Search:                r.URL.Query().Get("search"),
		SortBy:                r.URL.Query().Get("sort"),
		SortDir:               r.URL.Query().Get("dir"),
	}
	items, total, err := h.service.List(r.Context(), limit, offset, filters)
	if err != nil {
		httpx.LogError(h.logger, "list requisitions", err)
		httpx.RespondError(w, err)
		return
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "page": page.Page, "per_page": page.PerPage, "total_pages": page.TotalPages})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var (
		req     Requisition
		items   []Item
		actions []Action
		history []shared.ApprovalLog
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		req, items, actions, err = h.service.Get(ctx, actor, id)
		return err
	})
	g.Go(func() error {
		if h.approvals == nil {
			return nil
		}
		var err error
		history, err = h.approvals.List(ctx, "REQUISITION", approvalRef(id))
		return err
	})
	if err := g.Wait(); err != nil {
		httpx.LogError(h.logger, "get requisition", err, slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"requisition":  req,
		"items":        items,
		"next_actions": actions,
		"approvals":    history,
	})
}

func (h *Handler) handleChain(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ancestors, children, err := h.service.Trace(r.Context(), id)
	if err != nil {
		httpx.LogError(h.logger, "trace requisition chain", err, slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ancestors": ancestors, "children": children})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit", func(actor shared.Actor, id int64) error {
		return h.service.Submit(r.Context(), actor, id)
	})
}

type approveRequest struct {
	Lines []struct {
		ItemID int64   `json:"item_id" validate:"required"`
		Qty    float64 `json:"qty" validate:"required,gt=0"`
	} `json:"lines" validate:"dive"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	input := ApproveInput{}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ApproveLine{ItemID: line.ItemID, Qty: line.Qty})
	}
	if err := h.service.Approve(r.Context(), actor, id, input); err != nil {
		httpx.LogError(h.logger, "approve requisition", err, slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusApproved})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.Reject(r.Context(), actor, id, req.Reason); err != nil {
		httpx.LogError(h.logger, "reject requisition", err, slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": StatusRejected})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", func(actor shared.Actor, id int64) error {
		return h.service.Cancel(r.Context(), actor, id)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, name string, fn func(shared.Actor, int64) error) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := fn(actor, id); err != nil {
		httpx.LogError(h.logger, name+" requisition", err, slog.Int64("id", id))
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
