package stockledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/httpx"
)

// Handler exposes read-only ledger views.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/warehouses/{id}/balances", h.handleBalances)
	r.Get("/warehouses/{id}/stock-card", h.handleStockCard)
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "numeric warehouse id required")
		return
	}
	balances, err := h.service.ListBalances(r.Context(), warehouseID)
	if err != nil {
		httpx.LogError(h.logger, "list balances", err, slog.Int64("warehouse_id", warehouseID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": balances})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "numeric warehouse id required")
		return
	}
	drugID, _ := strconv.ParseInt(r.URL.Query().Get("drug_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.GetStockCard(r.Context(), CardFilter{
		WarehouseID: warehouseID,
		DrugID:      drugID,
		Lot:         r.URL.Query().Get("lot"),
		Limit:       limit,
	})
	if err != nil {
		httpx.LogError(h.logger, "stock card", err, slog.Int64("warehouse_id", warehouseID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": movements})
}
