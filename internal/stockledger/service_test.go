package stockledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

type balanceKey struct {
	warehouseID int64
	drugID      int64
	lot         string
}

type memoryRepo struct {
	balances  map[balanceKey]Balance
	movements []Movement
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[balanceKey]Balance)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, drugID int64, lot string) (Balance, error) {
	b, ok := r.balances[balanceKey{warehouseID, drugID, lot}]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (r *memoryRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	balance.UpdatedAt = time.Now()
	r.balances[balanceKey{balance.WarehouseID, balance.DrugID, balance.Lot}] = balance
	return nil
}

func (r *memoryRepo) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	r.nextID++
	movement.ID = r.nextID
	r.movements = append(r.movements, movement)
	return movement.ID, nil
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter CardFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.WarehouseID != filter.WarehouseID || m.DrugID != filter.DrugID {
			continue
		}
		if filter.Lot != "" && m.Lot != filter.Lot {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	var out []Balance
	for _, b := range r.balances {
		if b.WarehouseID == warehouseID {
			out = append(out, b)
		}
	}
	return out, nil
}

func receiveInput(lot string, qty float64) ReceiveInput {
	return ReceiveInput{
		WarehouseID: 2,
		DrugID:      11,
		Lot:         lot,
		Qty:         qty,
		UnitCost:    1.5,
		RefModule:   "receiving",
		RefKey:      lot + "-1",
		ActorID:     300,
	}
}

func TestPostReceiveAccumulatesPerLot(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	first, err := svc.PostReceive(ctx, receiveInput("LOT-A", 80))
	require.NoError(t, err)
	require.Equal(t, 80.0, first.BalanceAfter)
	require.Equal(t, MovementReceive, first.Type)
	require.Equal(t, ConditionGood, first.Condition)

	in := receiveInput("LOT-A", 20)
	in.RefKey = "LOT-A-2"
	second, err := svc.PostReceive(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 100.0, second.BalanceAfter)

	other, err := svc.PostReceive(ctx, receiveInput("LOT-B", 5))
	require.NoError(t, err)
	require.Equal(t, 5.0, other.BalanceAfter)

	balances, err := svc.ListBalances(ctx, 2)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	card, err := svc.GetStockCard(ctx, CardFilter{WarehouseID: 2, DrugID: 11, Lot: "LOT-A"})
	require.NoError(t, err)
	require.Len(t, card, 2)
	require.Equal(t, 100.0, card[0].BalanceAfter)
	require.Equal(t, 80.0, card[1].BalanceAfter)
}

func TestPostReceiveExpiryUpdatesBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	expiry := time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC)
	in := receiveInput("LOT-A", 10)
	in.Expiry = expiry
	_, err := svc.PostReceive(ctx, in)
	require.NoError(t, err)

	balances, err := svc.ListBalances(ctx, 2)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, expiry, balances[0].Expiry)
}

func TestPostReceiveValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	in := receiveInput("LOT-A", 0)
	_, err := svc.PostReceive(ctx, in)
	require.ErrorIs(t, err, shared.ErrQuantityViolation)

	in = receiveInput("LOT-A", 10)
	in.WarehouseID = 0
	_, err = svc.PostReceive(ctx, in)
	require.Error(t, err)

	in = receiveInput("LOT-A", 10)
	in.RefKey = ""
	_, err = svc.PostReceive(ctx, in)
	require.Error(t, err)

	require.Empty(t, repo.movements)

	_, err = svc.GetStockCard(ctx, CardFilter{WarehouseID: 2})
	require.Error(t, err)
	_, err = svc.ListBalances(ctx, 0)
	require.Error(t, err)
}
