package stockledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter CardFilter) ([]Movement, error)
	ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error)
}

// Service posts ledger movements and maintains per-lot balances.
type Service struct {
	repo        RepositoryPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, idempotency: idem}
}

// ReceiveInput describes one inbound posting.
type ReceiveInput struct {
	WarehouseID int64
	DrugID      int64
	Lot         string
	Expiry      time.Time
	Condition   Condition
	Qty         float64
	UnitCost    float64
	RefModule   string
	RefKey      string
	ActorID     int64
	Note        string
}

// PostReceive credits received quantity onto the (warehouse, drug, lot)
// balance. The (module, ref key) pair makes the posting idempotent: a
// replay returns ErrIdempotencyConflict and mutates nothing.
func (s *Service) PostReceive(ctx context.Context, input ReceiveInput) (Movement, error) {
	if input.WarehouseID == 0 || input.DrugID == 0 {
		return Movement{}, errors.New("stockledger: warehouse and drug required")
	}
	if input.Qty <= 0 {
		return Movement{}, fmt.Errorf("%w: receive quantity must be positive", shared.ErrQuantityViolation)
	}
	if input.RefModule == "" || input.RefKey == "" {
		return Movement{}, errors.New("stockledger: ref module and ref key required")
	}
	if input.Condition == "" {
		input.Condition = ConditionGood
	}
	now := time.Now().UTC()
	movement := Movement{
		Code:        fmt.Sprintf("SL-%d", now.UnixNano()),
		Type:        MovementReceive,
		WarehouseID: input.WarehouseID,
		DrugID:      input.DrugID,
		Lot:         input.Lot,
		Expiry:      input.Expiry,
		Condition:   input.Condition,
		Qty:         input.Qty,
		UnitCost:    input.UnitCost,
		RefModule:   input.RefModule,
		RefKey:      input.RefKey,
		ActorID:     input.ActorID,
		Note:        input.Note,
		PostedAt:    now,
	}

	key := fmt.Sprintf("%s:%s:%s", MovementReceive, input.RefModule, input.RefKey)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stockledger"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, input.WarehouseID, input.DrugID, input.Lot)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if errors.Is(err, ErrBalanceNotFound) {
			balance = Balance{WarehouseID: input.WarehouseID, DrugID: input.DrugID, Lot: input.Lot}
		}
		balance.Qty += input.Qty
		if !input.Expiry.IsZero() {
			balance.Expiry = input.Expiry
		}
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		movement.BalanceAfter = balance.Qty
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Movement{}, err
	}
	return movement, nil
}

// GetStockCard lists movements for one (warehouse, drug).
func (s *Service) GetStockCard(ctx context.Context, filter CardFilter) ([]Movement, error) {
	if filter.WarehouseID == 0 || filter.DrugID == 0 {
		return nil, errors.New("stockledger: warehouse and drug required")
	}
	return s.repo.GetStockCard(ctx, filter)
}

// ListBalances returns on-hand balances for one warehouse.
func (s *Service) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	if warehouseID == 0 {
		return nil, errors.New("stockledger: warehouse required")
	}
	return s.repo.ListBalances(ctx, warehouseID)
}
