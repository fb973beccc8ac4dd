package shipment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/requisition"
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

// TxRepository exposes transactional operations. Requisition rows are read
// and advanced inside the same transaction as the note mutation so the
// delivered-quantity bound holds under concurrent note creation.
type TxRepository interface {
	CreateNote(ctx context.Context, note DeliveryNote) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	GetNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error)
	UpdateNoteStatus(ctx context.Context, id int64, status NoteStatus) error
	SetDispatched(ctx context.Context, id int64, at time.Time) error
	SetDelivered(ctx context.Context, id int64, at time.Time) error
	GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error)
	GetRequisitionItems(ctx context.Context, requisitionID int64) ([]requisition.Item, error)
	AddDeliveredQty(ctx context.Context, itemID int64, qty float64) error
	UpdateRequisitionStatus(ctx context.Context, id int64, status requisition.Status) error
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

const noteColumns = `id, number, requisition_id, status, prepared_by, COALESCE(carrier,''),
COALESCE(dispatched_at,'epoch'), COALESCE(delivered_at,'epoch'), COALESCE(notes,''), created_at, updated_at`

func scanNote(row pgx.Row) (DeliveryNote, error) {
	var n DeliveryNote
	err := row.Scan(&n.ID, &n.Number, &n.RequisitionID, &n.Status, &n.PreparedBy, &n.Carrier,
		&n.DispatchedAt, &n.DeliveredAt, &n.Notes, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

// GetNote returns a note and its lines.
func (r *Repository) GetNote(ctx context.Context, id int64) (DeliveryNote, []Line, error) {
	note, err := scanNote(r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, nil, shared.ErrNotFound
		}
		return DeliveryNote{}, nil, err
	}
	lines, err := queryLines(ctx, r.pool, id)
	if err != nil {
		return DeliveryNote{}, nil, err
	}
	return note, lines, nil
}

// ListByRequisition returns every note of one requisition in creation order.
func (r *Repository) ListByRequisition(ctx context.Context, requisitionID int64) ([]DeliveryNote, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE requisition_id=$1 ORDER BY id`, requisitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []DeliveryNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func queryLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, noteID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_note_id, requisition_item_id, drug_id, qty
FROM delivery_note_lines WHERE delivery_note_id=$1 ORDER BY id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DeliveryNoteID, &line.RequisitionItemID, &line.DrugID, &line.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (tx *txRepo) CreateNote(ctx context.Context, note DeliveryNote) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO delivery_notes (number, requisition_id, status, prepared_by, carrier, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		note.Number, note.RequisitionID, note.Status, note.PreparedBy, note.Carrier, note.Notes).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO delivery_note_lines (delivery_note_id, requisition_item_id, drug_id, qty)
VALUES ($1,$2,$3,$4)`, line.DeliveryNoteID, line.RequisitionItemID, line.DrugID, line.Qty)
	return err
}

func (tx *txRepo) GetNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error) {
	note, err := scanNote(tx.tx.QueryRow(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, shared.ErrNotFound
		}
		return DeliveryNote{}, err
	}
	return note, nil
}

func (tx *txRepo) UpdateNoteStatus(ctx context.Context, id int64, status NoteStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE delivery_notes SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) SetDispatched(ctx context.Context, id int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE delivery_notes SET dispatched_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
	return err
}

func (tx *txRepo) SetDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE delivery_notes SET delivered_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
	return err
}

func (tx *txRepo) GetRequisitionForUpdate(ctx context.Context, id int64) (requisition.Requisition, error) {
	var req requisition.Requisition
	err := tx.tx.QueryRow(ctx, `SELECT id, number, type, priority, status, fulfilling_warehouse_id, requesting_warehouse_id
FROM requisitions WHERE id=$1 FOR UPDATE`, id).
		Scan(&req.ID, &req.Number, &req.Type, &req.Priority, &req.Status, &req.FulfillingWarehouseID, &req.RequestingWarehouseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requisition.Requisition{}, shared.ErrNotFound
		}
		return requisition.Requisition{}, err
	}
	return req, nil
}

func (tx *txRepo) GetRequisitionItems(ctx context.Context, requisitionID int64) ([]requisition.Item, error) {
	rows, err := tx.tx.Query(ctx, `SELECT id, requisition_id, drug_id, unit, requested_qty, approved_qty, delivered_qty, received_qty, unit_price
FROM requisition_items WHERE requisition_id=$1 ORDER BY id FOR UPDATE`, requisitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []requisition.Item
	for rows.Next() {
		var item requisition.Item
		if err := rows.Scan(&item.ID, &item.RequisitionID, &item.DrugID, &item.Unit,
			&item.RequestedQty, &item.ApprovedQty, &item.DeliveredQty, &item.ReceivedQty, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (tx *txRepo) AddDeliveredQty(ctx context.Context, itemID int64, qty float64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisition_items SET delivered_qty = delivered_qty + $1 WHERE id=$2`, qty, itemID)
	return err
}

func (tx *txRepo) UpdateRequisitionStatus(ctx context.Context, id int64, status requisition.Status) error {
	_, err := tx.tx.Exec(ctx, `UPDATE requisitions SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	return err
}
