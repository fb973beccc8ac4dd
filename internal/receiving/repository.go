package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
	"github.com/Taro112233/Thoen-Substock-sub000/internal/shipment"
)

// Repository provides PostgreSQL backed persistence. Sessions are persisted
// so an interrupted operator can resume after a crash.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Completion re-reads every
// touched requisition item under lock so the shortfall arithmetic holds
// against concurrent sessions.
type TxRepository interface {
	GetSessionForUpdate(ctx context.Context, id int64) (Session, error)
	GetSessionItems(ctx context.Context, sessionID int64) ([]Item, error)
	UpdateSessionStatus(ctx context.Context, id int64, status SessionStatus, closedAt time.Time) error
	GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error)
	GetRequisitionItemForUpdate(ctx context.Context, id int64) (requisition.Item, error)
	GetRequisitionItems(ctx context.Context, requisitionID int64) ([]requisition.Item, error)
	AddReceivedQty(ctx context.Context, itemID int64, qty float64) error
	UpdateRequisitionStatus(ctx context.Context, id int64, status requisition.Status) error
	SetDeliveredNotesStatus(ctx context.Context, requisitionID int64, status shipment.NoteStatus) error
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

const sessionColumns = `id, warehouse_id, operator, status, COALESCE(notes,''), opened_at, COALESCE(closed_at,'epoch')`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.WarehouseID, &s.Operator, &s.Status, &s.Notes, &s.OpenedAt, &s.ClosedAt)
	return s, err
}

// CreateSession opens a session.
func (r *Repository) CreateSession(ctx context.Context, s Session) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO receiving_sessions (warehouse_id, operator, status, notes, opened_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, s.WarehouseID, s.Operator, s.Status, s.Notes).Scan(&id)
	return id, err
}

// GetSession returns a session and its accumulated items.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, []Item, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM receiving_sessions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, nil, shared.ErrNotFound
		}
		return Session{}, nil, err
	}
	items, err := queryItems(ctx, r.pool, id)
	if err != nil {
		return Session{}, nil, err
	}
	return s, items, nil
}

// FindOpenByOperator returns the operator's open session, if any.
func (r *Repository) FindOpenByOperator(ctx context.Context, operator int64) (Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM receiving_sessions
WHERE operator=$1 AND status='OPEN' ORDER BY id DESC LIMIT 1`, operator))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// InsertItem accumulates one receipt line.
func (r *Repository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO receiving_session_items
(session_id, requisition_id, requisition_item_id, drug_id, qty, lot, expiry, manufacturer, condition, notes, added_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		item.SessionID, item.RequisitionID, item.RequisitionItemID, item.DrugID, item.Qty,
		item.Lot, nullTime(item.Expiry), item.Manufacturer, item.Condition, item.Notes).Scan(&id)
	return id, err
}

// DeleteItem removes one accumulated line from an open session.
func (r *Repository) DeleteItem(ctx context.Context, sessionID, itemID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM receiving_session_items WHERE id=$1 AND session_id=$2`, itemID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetRequisition reads the requisition referenced by an incoming item.
func (r *Repository) GetRequisition(ctx context.Context, id int64) (requisition.Requisition, error) {
	req, err := scanRequisition(r.pool.QueryRow(ctx, requisitionQuery+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requisition.Requisition{}, shared.ErrNotFound
		}
		return requisition.Requisition{}, err
	}
	return req, nil
}

// GetRequisitionItem reads one requisition line.
func (r *Repository) GetRequisitionItem(ctx context.Context, id int64) (requisition.Item, error) {
	item, err := scanRequisitionItem(r.pool.QueryRow(ctx, requisitionItemQuery+` WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requisition.Item{}, shared.ErrNotFound
		}
		return requisition.Item{}, err
	}
	return item, nil
}

// AbandonStale abandons open sessions older than the cutoff and returns the
// number swept.
func (r *Repository) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE receiving_sessions SET status='ABANDONED', closed_at=NOW()
WHERE status='OPEN' AND opened_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const requisitionQuery = `SELECT id, number, type, priority, status, fulfilling_warehouse_id, requesting_warehouse_id FROM requisitions`

func scanRequisition(row pgx.Row) (requisition.Requisition, error) {
	var req requisition.Requisition
	err := row.Scan(&req.ID, &req.Number, &req.Type, &req.Priority, &req.Status, &req.FulfillingWarehouseID, &req.RequestingWarehouseID)
	return req, err
}

const requisitionItemQuery = `SELECT id, requisition_id, drug_id, unit, requested_qty, approved_qty, delivered_qty, received_qty, unit_price FROM requisition_items`

func scanRequisitionItem(row pgx.Row) (requisition.Item, error) {
	var item requisition.Item
	err := row.Scan(&item.ID, &item.RequisitionID, &item.DrugID, &item.Unit,
		&item.RequestedQty, &item.ApprovedQty, &item.DeliveredQty, &item.ReceivedQty, &item.UnitPrice)
	return item, err
}

func queryItems(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, sessionID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, session_id, requisition_id, requisition_item_id, drug_id, qty,
COALESCE(lot,''), COALESCE(expiry,'epoch'), COALESCE(manufacturer,''), condition, COALESCE(notes,''), added_at
FROM receiving_session_items WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.SessionID, &item.RequisitionID, &item.RequisitionItemID, &item.DrugID,
			&item.Qty, &item.Lot, &item.Expiry, &item.Manufacturer, &item.Condition, &item.Notes, &item.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (tx *txRepo) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	s, err := scanSession(tx.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM receiving_sessions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (tx *txRepo) GetSessionItems(ctx context.Context, sessionID int64) ([]Item, error) {
	return queryItems(ctx, tx.tx, sessionID)
}

func (tx *txRepo) UpdateSessionStatus(ctx context.Context, id int64, status SessionStatus, closedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE receiving_sessions SET status=$1, closed_at=$2 WHERE id=$3`, status, nullTime(closedAt), id)
	return err
}

func (tx *txRepo) GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error) {
	req, err := scanRequisition(tx.tx.QueryRow(ctx, requisitionQuery+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requisition.Requisition{}, shared.ErrNotFound
		}
		return requisition.Requisition{}, err
	}
	return req, nil
}

func (tx *txRepo) GetRequisitionItemForUpdate(ctx context.Context, id int64) (requisition.Item, error) {
	item, err := scanRequisitionItem(tx.tx.QueryRow(ctx, requisitionItemQuery+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requisition.Item{}, shared.ErrNotFound
		}
		return requisition.Item{}, err
	}
	return item, nil
}

func (tx *txRepo) GetRequisitionItems(ctx context.Context, requisitionID int64) ([]requisition.Item, error) {
	rows, err := tx.tx.Query(ctx, requisitionItemQuery+` WHERE requisition_id=$1 ORDER BY id`, requisitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []requisition.Item
	for rows.Next() {
		item, err := scanRequisitionItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (tx *txRepo) AddReceivedQty(ctx context.Context, itemID int64, qty float64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisition_items SET received_qty = received_qty + $1 WHERE id=$2`, qty, itemID)
	return err
}

func (tx *txRepo) UpdateRequisitionStatus(ctx context.Context, id int64, status requisition.Status) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) SetDeliveredNotesStatus(ctx context.Context, requisitionID int64, status shipment.NoteStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE delivery_notes SET status=$1, updated_at=NOW() WHERE requisition_id=$2 AND status='DELIVERED'`, status, requisitionID)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
