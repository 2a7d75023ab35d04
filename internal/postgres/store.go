package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jogardn/roast-orders/internal/numbering"
	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/jogardn/roast-orders/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const orderColumns = `id, order_number, order_date, customer_name, customer_phone,
	delivery_mode, delivery_zone, address, payment_method, with_condiment,
	with_side_dish, side_dish_quantity, quantity, unit_price, total_price,
	status, created_at, requested_delivery_time, delivered_at, updated_at`

var _ orders.Store = (*Store)(nil)

type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewStore(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WithError(rbErr).Error("Failed to roll back transaction")
			}
		}
	}()

	if err = fn(&tx{tx: sqlTx}); err != nil {
		return classify(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, date string) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []interface{}
	if date != "" {
		query += ` WHERE order_date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY
		CASE status WHEN 'delivered' THEN 1 WHEN 'cancelled' THEN 2 ELSE 0 END,
		requested_delivery_time ASC NULLS LAST,
		created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (s *Store) StockLevel(ctx context.Context, product string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT quantity FROM stock WHERE product = $1`, product).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read stock: %w", err)
	}
	return qty, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// tx is the transaction scope every component runs its statements on.
type tx struct {
	tx *sql.Tx
}

func (t *tx) LastOrderNumber(ctx context.Context, orderDate string) (string, bool, error) {
	// Row locks cannot cover a day that has no orders yet, so the day's
	// sequence is also guarded by a transaction-scoped advisory lock.
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "order_seq:"+orderDate); err != nil {
		return "", false, fmt.Errorf("failed to lock order sequence: %w", err)
	}

	var number string
	err := t.tx.QueryRowContext(ctx, `
		SELECT order_number FROM orders
		WHERE order_date = $1
		ORDER BY length(order_number) DESC, order_number DESC
		LIMIT 1
		FOR UPDATE`, orderDate).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return number, true, nil
}

func (t *tx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists)
	return exists, err
}

func (t *tx) StockForUpdate(ctx context.Context, product string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := t.tx.QueryRowContext(ctx,
		`SELECT quantity FROM stock WHERE product = $1 FOR UPDATE`, product).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return qty, err
}

func (t *tx) AddStock(ctx context.Context, product string, delta decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock (product, quantity, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (product) DO UPDATE
		SET quantity = stock.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		product, delta)
	return err
}

func (t *tx) PriceConfig(ctx context.Context) (pricing.Config, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT key, value FROM price_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to read price config: %w", err)
	}
	defer rows.Close()

	cfg := pricing.Config{}
	for rows.Next() {
		var key string
		var value decimal.Decimal
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan price config: %w", err)
		}
		cfg[key] = value
	}
	return cfg, rows.Err()
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.OrderNumber, err)
	}
	return nil
}

func (t *tx) OrderForUpdate(ctx context.Context, id string) (*models.Order, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (t *tx) SaveOrder(ctx context.Context, o *models.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET
			customer_name = $2,
			customer_phone = $3,
			delivery_mode = $4,
			delivery_zone = $5,
			address = $6,
			payment_method = $7,
			with_condiment = $8,
			with_side_dish = $9,
			side_dish_quantity = $10,
			quantity = $11,
			unit_price = $12,
			total_price = $13,
			status = $14,
			requested_delivery_time = $15,
			delivered_at = $16,
			updated_at = $17
		WHERE id = $1`,
		o.ID, o.CustomerName, nullString(o.CustomerPhone), string(o.DeliveryMode),
		nullString(string(o.DeliveryZone)), nullString(o.Address), o.PaymentMethod,
		o.WithCondiment, o.WithSideDish, o.SideDishQuantity, o.Quantity, o.UnitPrice,
		o.TotalPrice, string(o.Status), nullTime(o.RequestedDeliveryTime),
		nullTime(o.DeliveredAt), nullTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s vanished during update", o.ID)
	}
	return nil
}

func orderArgs(o *models.Order) []interface{} {
	return []interface{}{
		o.ID, o.OrderNumber, o.OrderDate, o.CustomerName, nullString(o.CustomerPhone),
		string(o.DeliveryMode), nullString(string(o.DeliveryZone)), nullString(o.Address),
		o.PaymentMethod, o.WithCondiment, o.WithSideDish, o.SideDishQuantity,
		o.Quantity, o.UnitPrice, o.TotalPrice, string(o.Status), o.CreatedAt,
		nullTime(o.RequestedDeliveryTime), nullTime(o.DeliveredAt), nullTime(o.UpdatedAt),
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o                              models.Order
		orderDate                      time.Time
		phone, zone, address           sql.NullString
		mode, status                   string
		requested, delivered, modified sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &orderDate, &o.CustomerName, &phone,
		&mode, &zone, &address, &o.PaymentMethod, &o.WithCondiment,
		&o.WithSideDish, &o.SideDishQuantity, &o.Quantity, &o.UnitPrice, &o.TotalPrice,
		&status, &o.CreatedAt, &requested, &delivered, &modified,
	)
	if err != nil {
		return nil, err
	}

	o.OrderDate = orderDate.Format(numbering.DateLayout)
	o.CustomerPhone = phone.String
	o.DeliveryMode = models.DeliveryMode(mode)
	o.DeliveryZone = models.DeliveryZone(zone.String)
	o.Address = address.String
	o.Status = models.Status(status)
	o.RequestedDeliveryTime = timePtr(requested)
	o.DeliveredAt = timePtr(delivered)
	o.UpdatedAt = timePtr(modified)
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
