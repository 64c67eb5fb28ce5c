package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telego/internal/apperr"
	"telego/internal/domain"
)

const historySchema = `
	CREATE TABLE IF NOT EXISTS delivery_history (
		id            TEXT PRIMARY KEY,
		restaurant_id TEXT NOT NULL,
		courier_id    TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		price         DOUBLE PRECISION NOT NULL DEFAULT 0,
		order_value   DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL,
		archived_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS delivery_history_restaurant_idx ON delivery_history (restaurant_id);
	CREATE INDEX IF NOT EXISTS delivery_history_courier_idx ON delivery_history (courier_id);
`

const upsertHistory = `
	INSERT INTO delivery_history (id, restaurant_id, courier_id, status, price, order_value, created_at, archived_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	ON CONFLICT (id) DO UPDATE SET
		courier_id  = EXCLUDED.courier_id,
		status      = EXCLUDED.status,
		price       = EXCLUDED.price,
		order_value = EXCLUDED.order_value,
		archived_at = now()
`

// HistoryRepo archives finished deliveries.
type HistoryRepo struct {
	db *pgxpool.Pool
}

// NewHistoryRepo creates a new HistoryRepo.
func NewHistoryRepo(db *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// EnsureSchema creates the archive table when missing.
func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// Archive upserts one terminal delivery.
func (r *HistoryRepo) Archive(ctx context.Context, d domain.Delivery) error {
	if !d.Status.Terminal() {
		return fmt.Errorf("%w: delivery %s is %s, not terminal", apperr.ErrInvalid, d.ID, d.Status)
	}
	if _, err := r.db.Exec(ctx, upsertHistory, historyArgs(d)...); err != nil {
		return fmt.Errorf("archive delivery %s: %w", d.ID, err)
	}
	return nil
}

// ArchiveAll upserts every delivery in one transaction. Non-terminal
// deliveries are skipped.
func (r *HistoryRepo) ArchiveAll(ctx context.Context, ds []domain.Delivery) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	for _, d := range ds {
		if !d.Status.Terminal() {
			continue
		}
		if _, err := tx.Exec(ctx, upsertHistory, historyArgs(d)...); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("rollback tx: %w (original error: %s)", rbErr, err.Error())
			}
			return fmt.Errorf("archive delivery %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// History lists archived deliveries of the user, newest first.
func (r *HistoryRepo) History(ctx context.Context, role domain.Role, actorID string, limit int) ([]domain.Delivery, error) {
	col, err := ownerColumn(role)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, restaurant_id, courier_id, status, price, order_value, created_at, archived_at
		FROM delivery_history
		WHERE `+col+` = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var (
			d      domain.Delivery
			status string
		)
		if err := rows.Scan(&d.ID, &d.RestaurantID, &d.CourierID, &status, &d.Price, &d.OrderValue, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		d.Status = domain.Status(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Stats aggregates the archive for the user. Earnings follow the same rule as
// the in-memory store: courier payout for couriers, order value for
// restaurants, delivered jobs only.
func (r *HistoryRepo) Stats(ctx context.Context, role domain.Role, actorID string) (domain.Stats, error) {
	col, err := ownerColumn(role)
	if err != nil {
		return domain.Stats{}, err
	}
	earned := "price"
	if role == domain.RoleRestaurant {
		earned = "order_value"
	}
	row := r.db.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'DELIVERED'),
			count(*) FILTER (WHERE status = 'CANCELLED'),
			count(*) FILTER (WHERE status = 'EXPIRED'),
			COALESCE(SUM(`+earned+`) FILTER (WHERE status = 'DELIVERED'), 0)
		FROM delivery_history
		WHERE `+col+` = $1
	`, actorID)

	var st domain.Stats
	if err := row.Scan(&st.Total, &st.Delivered, &st.Cancelled, &st.Expired, &st.Earnings); err != nil {
		return domain.Stats{}, fmt.Errorf("history stats: %w", err)
	}
	return st, nil
}

func ownerColumn(role domain.Role) (string, error) {
	switch role {
	case domain.RoleRestaurant:
		return "restaurant_id", nil
	case domain.RoleCourier:
		return "courier_id", nil
	default:
		return "", fmt.Errorf("%w: role %q has no history", apperr.ErrForbidden, role)
	}
}

func historyArgs(d domain.Delivery) []any {
	return []any{d.ID, d.RestaurantID, d.CourierID, string(d.Status), d.Price, d.OrderValue, d.CreatedAt}
}
