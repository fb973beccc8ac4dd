package stockledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, warehouseID, drugID int64, lot string) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetStockCard lists movements, newest first.
func (r *Repository) GetStockCard(ctx context.Context, filter CardFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, code, type, warehouse_id, drug_id, COALESCE(lot,''), COALESCE(expiry,'epoch'), condition,
qty, unit_cost, balance_after, ref_module, ref_key, actor_id, COALESCE(note,''), posted_at
FROM stock_movements WHERE warehouse_id=$1 AND drug_id=$2`
	args := []any{filter.WarehouseID, filter.DrugID}
	if filter.Lot != "" {
		query += ` AND lot=$3`
		args = append(args, filter.Lot)
	}
	query += ` ORDER BY id DESC LIMIT ` + strconv.Itoa(limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Code, &m.Type, &m.WarehouseID, &m.DrugID, &m.Lot, &m.Expiry, &m.Condition,
			&m.Qty, &m.UnitCost, &m.BalanceAfter, &m.RefModule, &m.RefKey, &m.ActorID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListBalances returns on-hand balances for one warehouse.
func (r *Repository) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, drug_id, COALESCE(lot,''), qty, COALESCE(expiry,'epoch'), updated_at
FROM stock_balances WHERE warehouse_id=$1 ORDER BY drug_id, lot`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.WarehouseID, &b.DrugID, &b.Lot, &b.Qty, &b.Expiry, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (tx *txRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, drugID int64, lot string) (Balance, error) {
	var b Balance
	err := tx.tx.QueryRow(ctx, `SELECT warehouse_id, drug_id, COALESCE(lot,''), qty, COALESCE(expiry,'epoch'), updated_at
FROM stock_balances WHERE warehouse_id=$1 AND drug_id=$2 AND lot=$3 FOR UPDATE`, warehouseID, drugID, lot).
		Scan(&b.WarehouseID, &b.DrugID, &b.Lot, &b.Qty, &b.Expiry, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (tx *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO stock_balances (warehouse_id, drug_id, lot, qty, expiry, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (warehouse_id, drug_id, lot) DO UPDATE SET qty=EXCLUDED.qty, expiry=EXCLUDED.expiry, updated_at=NOW()`,
		balance.WarehouseID, balance.DrugID, balance.Lot, balance.Qty, nullTime(balance.Expiry))
	return err
}

func (tx *txRepo) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_movements
(code, type, warehouse_id, drug_id, lot, expiry, condition, qty, unit_cost, balance_after, ref_module, ref_key, actor_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		movement.Code, movement.Type, movement.WarehouseID, movement.DrugID, movement.Lot, nullTime(movement.Expiry),
		movement.Condition, movement.Qty, movement.UnitCost, movement.BalanceAfter, movement.RefModule, movement.RefKey,
		movement.ActorID, movement.Note, movement.PostedAt).Scan(&id)
	return id, err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
