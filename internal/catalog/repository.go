package catalog

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

// Repository persists drugs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const drugColumns = `id, code, name, COALESCE(generic_name,''), unit, is_controlled, default_price, is_active, created_at, updated_at`

func scanDrug(row pgx.Row) (Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.GenericName, &d.Unit, &d.IsControlled, &d.DefaultPrice, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Get returns one drug by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Drug, error) {
	d, err := scanDrug(r.pool.QueryRow(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Drug{}, shared.ErrNotFound
		}
		return Drug{}, err
	}
	return d, nil
}

// List returns active drugs matching the search term.
func (r *Repository) List(ctx context.Context, limit, offset int, search string) ([]Drug, int, error) {
	where := ` WHERE is_active = TRUE`
	args := []any{}
	argCount := 0
	if search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + ` OR generic_name ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+search+"%")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM drugs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	argCount++
	query := `SELECT ` + drugColumns + ` FROM drugs` + where + ` ORDER BY name LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var drugs []Drug
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, 0, err
		}
		drugs = append(drugs, d)
	}
	return drugs, total, rows.Err()
}

// Create inserts a drug.
func (r *Repository) Create(ctx context.Context, d Drug) (Drug, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `INSERT INTO drugs (code, name, generic_name, unit, is_controlled, default_price, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8) RETURNING id`,
		d.Code, d.Name, d.GenericName, d.Unit, d.IsControlled, d.DefaultPrice, d.IsActive, now).Scan(&d.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Drug{}, shared.ErrConflict
		}
		return Drug{}, err
	}
	d.CreatedAt = now
	d.UpdatedAt = now
	return d, nil
}

// Update rewrites mutable fields of a drug.
func (r *Repository) Update(ctx context.Context, d Drug) error {
	tag, err := r.pool.Exec(ctx, `UPDATE drugs SET name=$1, generic_name=$2, unit=$3, is_controlled=$4, default_price=$5, is_active=$6, updated_at=NOW() WHERE id=$7`,
		d.Name, d.GenericName, d.Unit, d.IsControlled, d.DefaultPrice, d.IsActive, d.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
