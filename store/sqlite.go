package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/commercemesh/core"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Product is one catalog entry. Price uses exact decimal arithmetic; Stock is
// informational and not reserved by cart additions.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Stock       int             `json:"stock"`
}

// SQLiteStore persists dialogs, products, orders and dead letters in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates a new SQLite-backed store at dbPath, initializing the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS dialogs (
		dialog_id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		history_json TEXT NOT NULL,
		cart_json TEXT NOT NULL,
		context_json TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dialogs_last_activity ON dialogs(last_activity);

	CREATE TABLE IF NOT EXISTS products (
		product_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		dialog_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_dialog ON orders(dialog_id);

	CREATE TABLE IF NOT EXISTS dead_letters (
		message_id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		envelope_json TEXT NOT NULL,
		reason TEXT NOT NULL,
		failed_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// withBusyRetry retries fn with exponential backoff on SQLITE_BUSY errors.
// Exhausted retries surface as a transient failure so the caller can route
// the event to redelivery.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
			select {
			case <-ctx.Done():
				return core.Transient(op, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return core.Transient(op, err)
}

func isBusy(err error) bool {
	return err != nil &&
		(strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY"))
}

// GetDialog loads a dialog by id. A missing dialog returns (nil, nil).
func (s *SQLiteStore) GetDialog(ctx context.Context, dialogID string) (*core.Dialog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dialog_id, sender_id, history_json, cart_json, context_json, last_activity, created_at
		FROM dialogs WHERE dialog_id = ?`, dialogID)

	var (
		d                                  core.Dialog
		historyJSON, cartJSON, contextJSON string
		lastActivity, createdAt            int64
	)
	err := row.Scan(&d.ID, &d.SenderID, &historyJSON, &cartJSON, &contextJSON, &lastActivity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog %s: %w", dialogID, err)
	}

	if err := json.Unmarshal([]byte(historyJSON), &d.History); err != nil {
		return nil, core.Fatal("store.dialog.decode", fmt.Errorf("history for %s: %w", dialogID, err))
	}
	if err := json.Unmarshal([]byte(cartJSON), &d.Cart); err != nil {
		return nil, core.Fatal("store.dialog.decode", fmt.Errorf("cart for %s: %w", dialogID, err))
	}
	if err := json.Unmarshal([]byte(contextJSON), &d.Context); err != nil {
		return nil, core.Fatal("store.dialog.decode", fmt.Errorf("context for %s: %w", dialogID, err))
	}
	d.LastActivity = time.UnixMilli(lastActivity).UTC()
	d.Created = time.UnixMilli(createdAt).UTC()
	return &d, nil
}

// SaveDialog upserts a dialog record.
func (s *SQLiteStore) SaveDialog(ctx context.Context, d *core.Dialog) error {
	historyJSON, err := json.Marshal(d.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	cartJSON, err := json.Marshal(d.Cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	contextJSON, err := json.Marshal(d.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	return withBusyRetry(ctx, "store.dialog.save", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO dialogs (dialog_id, sender_id, history_json, cart_json, context_json, last_activity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(dialog_id) DO UPDATE SET
				history_json = excluded.history_json,
				cart_json = excluded.cart_json,
				context_json = excluded.context_json,
				last_activity = excluded.last_activity,
				updated_at = excluded.updated_at`,
			d.ID, d.SenderID, string(historyJSON), string(cartJSON), string(contextJSON),
			d.LastActivity.UnixMilli(), d.Created.UnixMilli(), time.Now().UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("save dialog %s: %w", d.ID, err)
		}
		return nil
	})
}

// SearchProducts returns up to limit products whose name or description
// matches query (case-insensitive substring), optionally filtered by
// category. Ranking beyond the LIKE match is out of scope.
func (s *SQLiteStore) SearchProducts(ctx context.Context, query, category string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(query) + "%"

	q := `
		SELECT product_id, name, description, category, price, image_url, stock
		FROM products
		WHERE (LOWER(name) LIKE ? OR LOWER(description) LIKE ?)`
	args := []any{pattern, pattern}
	if category != "" {
		q += ` AND LOWER(category) = ?`
		args = append(args, strings.ToLower(category))
	}
	q += ` ORDER BY name LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct loads one product by id, returning a ResourceError when unknown.
func (s *SQLiteStore) GetProduct(ctx context.Context, productID string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT product_id, name, description, category, price, image_url, stock
		FROM products WHERE product_id = ?`, productID)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("product", productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProduct upserts a catalog entry. Used by seeding and tests; the admin
// CRUD surface lives outside this module.
func (s *SQLiteStore) PutProduct(ctx context.Context, p Product) error {
	return withBusyRetry(ctx, "store.product.put", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO products (product_id, name, description, category, price, image_url, stock)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(product_id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				category = excluded.category,
				price = excluded.price,
				image_url = excluded.image_url,
				stock = excluded.stock`,
			p.ID, p.Name, p.Description, p.Category, p.Price.String(), p.ImageURL, p.Stock)
		if err != nil {
			return fmt.Errorf("put product %s: %w", p.ID, err)
		}
		return nil
	})
}

type rowScanner interface{ Scan(dest ...any) error }

func scanProduct(row rowScanner) (Product, error) {
	var (
		p        Product
		priceStr string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &priceStr, &p.ImageURL, &p.Stock); err != nil {
		return Product{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Product{}, core.Fatal("store.product.decode", fmt.Errorf("price for %s: %w", p.ID, err))
	}
	p.Price = price
	return p, nil
}

// CreateOrder persists an immutable order snapshot.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *core.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("encode order lines: %w", err)
	}
	return withBusyRetry(ctx, "store.order.create", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO orders (order_id, dialog_id, sender_id, lines_json, total, status, payment_ref, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.DialogID, o.SenderID, string(linesJSON), o.Total.String(), string(o.Status),
			o.PaymentRef, o.Created.UnixMilli(), o.Updated.UnixMilli())
		if err != nil {
			return fmt.Errorf("create order %s: %w", o.ID, err)
		}
		return nil
	})
}

// GetOrder loads one order by id, returning a ResourceError when unknown.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, dialog_id, sender_id, lines_json, total, status, payment_ref, created_at, updated_at
		FROM orders WHERE order_id = ?`, orderID)

	var (
		o                   core.Order
		linesJSON, totalStr string
		status              string
		createdAt, updated  int64
	)
	err := row.Scan(&o.ID, &o.DialogID, &o.SenderID, &linesJSON, &totalStr, &status, &o.PaymentRef, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	if err := json.Unmarshal([]byte(linesJSON), &o.Lines); err != nil {
		return nil, core.Fatal("store.order.decode", fmt.Errorf("lines for %s: %w", orderID, err))
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, core.Fatal("store.order.decode", fmt.Errorf("total for %s: %w", orderID, err))
	}
	o.Total = total
	o.Status = core.OrderStatus(status)
	o.Created = time.UnixMilli(createdAt).UTC()
	o.Updated = time.UnixMilli(updated).UTC()
	return &o, nil
}

// UpdateOrder persists the mutable order fields (status, payment reference).
// The line snapshot and total are immutable and never rewritten.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *core.Order) error {
	return withBusyRetry(ctx, "store.order.update", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE orders SET status = ?, payment_ref = ?, updated_at = ? WHERE order_id = ?`,
			string(o.Status), o.PaymentRef, time.Now().UTC().UnixMilli(), o.ID)
		if err != nil {
			return fmt.Errorf("update order %s: %w", o.ID, err)
		}
		n, err := res.RowsAffected()
		if err == nil && n == 0 {
			return core.NotFound("order", o.ID)
		}
		return nil
	})
}

// SaveDeadLetter records an envelope that exhausted its delivery attempts.
func (s *SQLiteStore) SaveDeadLetter(ctx context.Context, dl core.DeadLetter) error {
	envelopeJSON, err := json.Marshal(dl.Envelope)
	if err != nil {
		return fmt.Errorf("encode dead letter envelope: %w", err)
	}
	return withBusyRetry(ctx, "store.deadletter.save", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO dead_letters (message_id, sender_id, envelope_json, reason, failed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET reason = excluded.reason, failed_at = excluded.failed_at`,
			dl.Envelope.PlatformMessageID, dl.Envelope.SenderID, string(envelopeJSON), dl.Reason, dl.FailedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("save dead letter %s: %w", dl.Envelope.PlatformMessageID, err)
		}
		return nil
	})
}
