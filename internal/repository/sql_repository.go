package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// EventPaymentCommitted is the outbox event type written with every sale.
const EventPaymentCommitted = "payment_committed"

type OutboxEvent struct {
	ID          int64
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// OutboxRepository is what the outbox poller needs from the database.
type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	PurgeProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}

// SQLRepository persists catalog, stock, transactions and the outbox in
// Postgres or SQLite. Both dialects share the same statements.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var (
	_ store.CatalogStore     = (*SQLRepository)(nil)
	_ store.InventoryStore   = (*SQLRepository)(nil)
	_ store.TransactionStore = (*SQLRepository)(nil)
	_ OutboxRepository       = (*SQLRepository)(nil)
)

func NewSQLRepository(cred *Credentials) (*SQLRepository, error) {
	db, err := OpenSQL(cred)
	if err != nil {
		return nil, err
	}
	driver := cred.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	return &SQLRepository{db: db, driver: driver}, nil
}

func (r *SQLRepository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	if r.driver == DriverSQLite {
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
	} else {
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "kasir_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertProduct creates or replaces a product and sets its stock level.
func (r *SQLRepository) UpsertProduct(ctx context.Context, p domain.ProductSummary, tenantID string, quantity int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, store_id, tenant_id, name, sku, barcode, price, category, unit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (store_id, id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			sku = excluded.sku,
			barcode = excluded.barcode,
			price = excluded.price,
			category = excluded.category,
			unit = excluded.unit,
			active = excluded.active`,
		p.ID, p.StoreID, tenantID, p.Name, p.SKU, p.Barcode, p.Price, p.Category, p.Unit, p.Active)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock (store_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id, product_id) DO UPDATE SET
			quantity = excluded.quantity,
			updated_at = excluded.updated_at`,
		p.StoreID, p.ID, quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}

	return tx.Commit()
}

const productColumns = `p.id, p.store_id, p.name, p.sku, p.barcode, p.price,
	COALESCE(s.quantity, 0), p.category, p.unit, p.active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.ProductSummary, error) {
	p := &domain.ProductSummary{}
	err := row.Scan(
		&p.ID,
		&p.StoreID,
		&p.Name,
		&p.SKU,
		&p.Barcode,
		&p.Price,
		&p.AvailableStock,
		&p.Category,
		&p.Unit,
		&p.Active,
	)
	return p, err
}

func (r *SQLRepository) SearchProducts(ctx context.Context, storeID, query, category string, limit int) ([]domain.ProductSummary, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	stmt := `
		SELECT ` + productColumns + `,
			CASE
				WHEN $2 = '' THEN 2
				WHEN LOWER(p.barcode) = $2 OR LOWER(p.sku) = $2 THEN 0
				WHEN LOWER(p.name) LIKE $3 THEN 1
				ELSE 2
			END AS match_rank
		FROM products p
		LEFT JOIN stock s ON s.store_id = p.store_id AND s.product_id = p.id
		WHERE p.store_id = $1
			AND p.active
			AND ($4 = '' OR LOWER(p.category) = LOWER($4))
			AND ($2 = ''
				OR LOWER(p.barcode) = $2
				OR LOWER(p.sku) = $2
				OR LOWER(p.name) LIKE $5
				OR LOWER(p.sku) LIKE $5
				OR LOWER(p.barcode) LIKE $5)
		ORDER BY match_rank, p.name, p.id
		LIMIT $6`

	rows, err := r.db.QueryContext(ctx, stmt, storeID, q, q+"%", category, "%"+q+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []domain.ProductSummary
	for rows.Next() {
		p := domain.ProductSummary{}
		var rank int
		if err := rows.Scan(
			&p.ID,
			&p.StoreID,
			&p.Name,
			&p.SKU,
			&p.Barcode,
			&p.Price,
			&p.AvailableStock,
			&p.Category,
			&p.Unit,
			&p.Active,
			&rank,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

func (r *SQLRepository) GetProductByCode(ctx context.Context, storeID, code string) (*domain.ProductSummary, error) {
	stmt := `
		SELECT ` + productColumns + `
		FROM products p
		LEFT JOIN stock s ON s.store_id = p.store_id AND s.product_id = p.id
		WHERE p.store_id = $1 AND p.active AND (p.barcode = $2 OR p.sku = $2)
		ORDER BY CASE WHEN p.barcode = $2 THEN 0 ELSE 1 END, p.id
		LIMIT 1`

	p, err := scanProduct(r.db.QueryRowContext(ctx, stmt, storeID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by code: %w", err)
	}
	return p, nil
}

func (r *SQLRepository) GetProduct(ctx context.Context, storeID string, productID int64) (*domain.ProductSummary, error) {
	stmt := `
		SELECT ` + productColumns + `
		FROM products p
		LEFT JOIN stock s ON s.store_id = p.store_id AND s.product_id = p.id
		WHERE p.store_id = $1 AND p.id = $2`

	p, err := scanProduct(r.db.QueryRowContext(ctx, stmt, storeID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return p, nil
}

// Decrement runs one conditional UPDATE per product inside a single database
// transaction. Lines are applied in product order so that two concurrent
// sales never wait on each other's rows in opposite order.
func (r *SQLRepository) Decrement(ctx context.Context, storeID string, items []domain.StockItem) error {
	ordered := append([]domain.StockItem(nil), items...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, item := range ordered {
		res, err := tx.ExecContext(ctx, `
			UPDATE stock SET quantity = quantity - $1, updated_at = $2
			WHERE store_id = $3 AND product_id = $4 AND quantity >= $1`,
			item.Quantity, now, storeID, item.ProductID)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if affected == 1 {
			continue
		}

		var available int
		err = tx.QueryRowContext(ctx,
			`SELECT quantity FROM stock WHERE store_id = $1 AND product_id = $2`,
			storeID, item.ProductID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("read stock: %w", err)
		}
		return &store.StockConflictError{
			ProductID: item.ProductID,
			Requested: item.Quantity,
			Available: available,
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decrement: %w", err)
	}
	return nil
}

func (r *SQLRepository) Restore(ctx context.Context, storeID string, items []domain.StockItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			UPDATE stock SET quantity = quantity + $1, updated_at = $2
			WHERE store_id = $3 AND product_id = $4`,
			item.Quantity, now, storeID, item.ProductID)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return store.ErrProductNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	return nil
}

// GetStock returns the current stock level for a product
func (r *SQLRepository) GetStock(ctx context.Context, storeID string, productID int64) (int, error) {
	var qty int
	err := r.db.QueryRowContext(ctx,
		`SELECT quantity FROM stock WHERE store_id = $1 AND product_id = $2`,
		storeID, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}
	return qty, nil
}

// CreateTransaction writes the sale, bumps the store counter and queues the
// outbox event in one database transaction.
func (r *SQLRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	itemsJSON, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO store_counters (store_id, last_seq) VALUES ($1, 1)
		ON CONFLICT (store_id) DO UPDATE SET last_seq = store_counters.last_seq + 1
		RETURNING last_seq`, t.StoreID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next transaction sequence: %w", err)
	}
	number := domain.FormatTransactionNumber(t.StoreID, t.CreatedAt, seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, transaction_number, transaction_seq, store_id, tenant_id, user_id,
			session_id, customer_id, items, status, payment_method, subtotal, discount_total,
			total_amount, amount_tendered, change_amount, note, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		t.ID,
		number,
		seq,
		t.StoreID,
		t.TenantID,
		t.UserID,
		t.SessionID,
		t.CustomerID,
		string(itemsJSON),
		t.Status,
		t.PaymentMethod,
		t.Subtotal,
		t.DiscountTotal,
		t.TotalAmount,
		t.AmountTendered,
		t.Change,
		t.Note,
		t.IdempotencyKey,
		t.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	t.Sequence = seq
	t.TransactionNumber = number
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		t.StoreID, EventPaymentCommitted, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		t.Sequence = 0
		t.TransactionNumber = ""
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, transaction_number, transaction_seq, store_id, tenant_id, user_id,
	session_id, customer_id, items, status, payment_method, subtotal, discount_total,
	total_amount, amount_tendered, change_amount, note, idempotency_key, created_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var itemsJSON []byte
	err := row.Scan(
		&t.ID,
		&t.TransactionNumber,
		&t.Sequence,
		&t.StoreID,
		&t.TenantID,
		&t.UserID,
		&t.SessionID,
		&t.CustomerID,
		&itemsJSON,
		&t.Status,
		&t.PaymentMethod,
		&t.Subtotal,
		&t.DiscountTotal,
		&t.TotalAmount,
		&t.AmountTendered,
		&t.Change,
		&t.Note,
		&t.IdempotencyKey,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &t.Items); err != nil {
		return nil, fmt.Errorf("unmarshal transaction items: %w", err)
	}
	return &t, nil
}

func (r *SQLRepository) GetTransaction(ctx context.Context, storeID, id string) (*domain.Transaction, error) {
	// transactions.id is a UUID column in Postgres
	if r.driver == DriverPostgres && !isUUID(id) {
		return nil, store.ErrTransactionNotFound
	}
	t, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE store_id = $1 AND id = $2`,
		storeID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction by id: %w", err)
	}
	return t, nil
}

func (r *SQLRepository) GetTransactionByIdempotencyKey(ctx context.Context, storeID, key string) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE store_id = $1 AND idempotency_key = $2`,
		storeID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction by idempotency key: %w", err)
	}
	return t, nil
}

func (r *SQLRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		e := &OutboxEvent{}
		if err := rows.Scan(&e.ID, &e.AggregateId, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *SQLRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}

// PurgeProcessedEvents deletes published events processed before the cutoff.
func (r *SQLRepository) PurgeProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE processed_at IS NOT NULL AND processed_at < $1`,
		before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge outbox events: %w", err)
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var liteErr *moderncsqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return false
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
