package requisition

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
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
	CreateRequisition(ctx context.Context, req Requisition) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Requisition, error)
	GetItems(ctx context.Context, id int64) ([]Item, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error
	SetRejection(ctx context.Context, id int64, rejectedBy int64, rejectedAt time.Time, reason string) error
	SetItemApprovedQty(ctx context.Context, itemID int64, qty float64) error
	HasActiveFollowUp(ctx context.Context, originID int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const requisitionColumns = `id, number, type, priority, status, fulfilling_warehouse_id, requesting_warehouse_id,
requested_by, COALESCE(approved_by,0), COALESCE(approved_at,'epoch'), COALESCE(rejected_by,0), COALESCE(rejected_at,'epoch'),
COALESCE(reject_reason,''), COALESCE(origin_requisition_id,0), purpose, created_at, updated_at`

func scanRequisition(row pgx.Row) (Requisition, error) {
	var req Requisition
	err := row.Scan(&req.ID, &req.Number, &req.Type, &req.Priority, &req.Status,
		&req.FulfillingWarehouseID, &req.RequestingWarehouseID, &req.RequestedBy,
		&req.ApprovedBy, &req.ApprovedAt, &req.RejectedBy, &req.RejectedAt,
		&req.RejectReason, &req.OriginRequisitionID, &req.Purpose, &req.CreatedAt, &req.UpdatedAt)
	return req, err
}

// Get returns a requisition and its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Requisition, []Item, error) {
	req, err := scanRequisition(r.pool.QueryRow(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, nil, shared.ErrNotFound
		}
		return Requisition{}, nil, err
	}
	items, err := queryItems(ctx, r.pool, id)
	if err != nil {
		return Requisition{}, nil, err
	}
	return req, items, nil
}

// List returns a queue page matching filters plus the total row count.
func (r *Repository) List(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Status != "" {
		argCount++
		where += ` AND r.status = $` + strconv.Itoa(argCount)
		args = append(args, filters.Status)
	}
	if filters.Type != "" {
		argCount++
		where += ` AND r.type = $` + strconv.Itoa(argCount)
		args = append(args, filters.Type)
	}
	if filters.FulfillingWarehouseID != 0 {
		argCount++
		where += ` AND r.fulfilling_warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.FulfillingWarehouseID)
	}
	if filters.RequestingWarehouseID != 0 {
		argCount++
		where += ` AND r.requesting_warehouse_id = $` + strconv.Itoa(argCount)
		args = append(args, filters.RequestingWarehouseID)
	}
	if filters.Search != "" {
		argCount++
		where += ` AND (r.number ILIKE $` + strconv.Itoa(argCount) + ` OR r.purpose ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions r`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT r.id, r.number, r.type, r.priority, r.status, r.fulfilling_warehouse_id, r.requesting_warehouse_id,
COALESCE(r.origin_requisition_id,0), (SELECT COUNT(*) FROM requisition_items i WHERE i.requisition_id=r.id), r.created_at
FROM requisitions r` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)

	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []ListItem
	for rows.Next() {
		var li ListItem
		if err := rows.Scan(&li.ID, &li.Number, &li.Type, &li.Priority, &li.Status,
			&li.FulfillingWarehouseID, &li.RequestingWarehouseID, &li.OriginRequisitionID, &li.LineCount, &li.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, li)
	}
	return list, total, rows.Err()
}

// ListByOrigin returns documents generated from the given requisition.
func (r *Repository) ListByOrigin(ctx context.Context, originID int64) ([]ListItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.number, r.type, r.priority, r.status, r.fulfilling_warehouse_id, r.requesting_warehouse_id,
COALESCE(r.origin_requisition_id,0), (SELECT COUNT(*) FROM requisition_items i WHERE i.requisition_id=r.id), r.created_at
FROM requisitions r WHERE r.origin_requisition_id=$1 ORDER BY r.id`, originID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ListItem
	for rows.Next() {
		var li ListItem
		if err := rows.Scan(&li.ID, &li.Number, &li.Type, &li.Priority, &li.Status,
			&li.FulfillingWarehouseID, &li.RequestingWarehouseID, &li.OriginRequisitionID, &li.LineCount, &li.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, li)
	}
	return list, rows.Err()
}

func queryItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, requisitionID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, requisition_id, drug_id, unit, requested_qty, approved_qty, delivered_qty, received_qty, unit_price
FROM requisition_items WHERE requisition_id=$1 ORDER BY id`, requisitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RequisitionID, &item.DrugID, &item.Unit,
			&item.RequestedQty, &item.ApprovedQty, &item.DeliveredQty, &item.ReceivedQty, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (tx *txRepo) CreateRequisition(ctx context.Context, req Requisition) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO requisitions
(number, type, priority, status, fulfilling_warehouse_id, requesting_warehouse_id, requested_by, origin_requisition_id, purpose, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		req.Number, req.Type, req.Priority, req.Status, req.FulfillingWarehouseID, req.RequestingWarehouseID,
		req.RequestedBy, nullInt(req.OriginRequisitionID), req.Purpose).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO requisition_items
(requisition_id, drug_id, unit, requested_qty, approved_qty, delivered_qty, received_qty, unit_price)
VALUES ($1,$2,$3,$4,0,0,0,$5) RETURNING id`,
		item.RequisitionID, item.DrugID, item.Unit, item.RequestedQty, item.UnitPrice).Scan(&id)
	return id, err
}

func (tx *txRepo) GetForUpdate(ctx context.Context, id int64) (Requisition, error) {
	req, err := scanRequisition(tx.tx.QueryRow(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, shared.ErrNotFound
		}
		return Requisition{}, err
	}
	return req, nil
}

func (tx *txRepo) GetItems(ctx context.Context, id int64) ([]Item, error) {
	return queryItems(ctx, tx.tx, id)
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) SetApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET approved_by=$1, approved_at=$2, updated_at=NOW() WHERE id=$3`, approvedBy, approvedAt, id)
	return err
}

func (tx *txRepo) SetRejection(ctx context.Context, id int64, rejectedBy int64, rejectedAt time.Time, reason string) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET rejected_by=$1, rejected_at=$2, reject_reason=$3, updated_at=NOW() WHERE id=$4`, rejectedBy, rejectedAt, reason, id)
	return err
}

func (tx *txRepo) SetItemApprovedQty(ctx context.Context, itemID int64, qty float64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisition_items SET approved_qty=$1 WHERE id=$2`, qty, itemID)
	return err
}

func (tx *txRepo) HasActiveFollowUp(ctx context.Context, originID int64) (bool, error) {
	var exists bool
	err := tx.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM requisitions WHERE origin_requisition_id=$1 AND status NOT IN ('REJECTED','CANCELLED'))`, originID).Scan(&exists)
	return exists, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func sortOrder(sortBy, sortDir string) string {
	column := "r.created_at"
	switch sortBy {
	case "number":
		column = "r.number"
	case "status":
		column = "r.status"
	case "priority":
		column = "r.priority"
	}
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	return column + " " + dir
}
