package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLite(t *testing.T) *SQLRepository {
	creds := &Credentials{
		Driver:            DriverSQLite,
		SQLitePath:        filepath.Join(t.TempDir(), "kasir.db"),
		MigrationsDirPath: "./migrations/sqlite",
	}
	repo, err := NewSQLRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func setupPostgres(t *testing.T) *SQLRepository {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Driver:            DriverPostgres,
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations/postgres",
	}
	repo, err := NewSQLRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))

	t.Cleanup(func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})
	return repo
}

func seedCatalog(t *testing.T, repo *SQLRepository) {
	ctx := context.Background()
	products := []struct {
		p   domain.ProductSummary
		qty int
	}{
		{domain.ProductSummary{ID: 1, StoreID: "S1", Name: "Kopi Susu", SKU: "KS-1", Barcode: "111", Price: decimal.RequireFromString("3500"), Category: "drinks", Unit: "cup", Active: true}, 10},
		{domain.ProductSummary{ID: 2, StoreID: "S1", Name: "Es Kopi", SKU: "EK-1", Barcode: "222", Price: decimal.RequireFromString("5000.50"), Category: "drinks", Unit: "cup", Active: true}, 1},
		{domain.ProductSummary{ID: 3, StoreID: "S1", Name: "Air Mineral", SKU: "KOPI", Barcode: "333", Price: decimal.RequireFromString("3000"), Category: "drinks", Unit: "btl", Active: true}, 5},
		{domain.ProductSummary{ID: 4, StoreID: "S1", Name: "Kopi Lama", SKU: "KL-1", Barcode: "444", Price: decimal.RequireFromString("1000"), Category: "drinks", Unit: "cup", Active: false}, 5},
		{domain.ProductSummary{ID: 1, StoreID: "S2", Name: "Kopi Susu", SKU: "KS-1", Barcode: "111", Price: decimal.RequireFromString("3600"), Category: "drinks", Unit: "cup", Active: true}, 3},
	}
	for _, item := range products {
		require.NoError(t, repo.UpsertProduct(ctx, item.p, "T1", item.qty))
	}
}

func TestSQLRepository_SQLite(t *testing.T) {
	runRepositoryTests(t, setupSQLite)
}

func TestSQLRepository_Postgres(t *testing.T) {
	runRepositoryTests(t, setupPostgres)
}

func runRepositoryTests(t *testing.T, setup func(*testing.T) *SQLRepository) {
	t.Run("SearchRanking", func(t *testing.T) {
		repo := setup(t)
		seedCatalog(t, repo)

		results, err := repo.SearchProducts(context.Background(), "S1", "Kopi", "", 20)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, int64(3), results[0].ID, "exact SKU ranks first")
		assert.Equal(t, int64(1), results[1].ID, "name prefix ranks second")
		assert.Equal(t, int64(2), results[2].ID)
		assert.True(t, decimal.RequireFromString("5000.50").Equal(results[2].Price))
		assert.Equal(t, 1, results[2].AvailableStock)
	})

	t.Run("SearchLimitAndCategory", func(t *testing.T) {
		repo := setup(t)
		seedCatalog(t, repo)

		results, err := repo.SearchProducts(context.Background(), "S1", "", "", 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)

		results, err = repo.SearchProducts(context.Background(), "S1", "", "snack", 20)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("GetProductByCode", func(t *testing.T) {
		repo := setup(t)
		seedCatalog(t, repo)

		p, err := repo.GetProductByCode(context.Background(), "S2", "111")
		require.NoError(t, err)
		assert.Equal(t, "S2", p.StoreID)
		assert.Equal(t, 3, p.AvailableStock)

		_, err = repo.GetProductByCode(context.Background(), "S1", "444")
		assert.ErrorIs(t, err, store.ErrProductNotFound, "inactive products are not scannable")

		_, err = repo.GetProduct(context.Background(), "S1", 99)
		assert.ErrorIs(t, err, store.ErrProductNotFound)
	})

	t.Run("DecrementAllOrNothing", func(t *testing.T) {
		repo := setup(t)
		seedCatalog(t, repo)
		ctx := context.Background()

		err := repo.Decrement(ctx, "S1", []domain.StockItem{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 2},
		})
		var conflict *store.StockConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(2), conflict.ProductID)
		assert.Equal(t, 1, conflict.Available)

		qty, err := repo.GetStock(ctx, "S1", 1)
		require.NoError(t, err)
		assert.Equal(t, 10, qty)

		require.NoError(t, repo.Decrement(ctx, "S1", []domain.StockItem{{ProductID: 1, Quantity: 4}}))
		require.NoError(t, repo.Restore(ctx, "S1", []domain.StockItem{{ProductID: 1, Quantity: 1}}))
		qty, _ = repo.GetStock(ctx, "S1", 1)
		assert.Equal(t, 7, qty)
	})

	t.Run("DecrementLastUnitRace", func(t *testing.T) {
		repo := setup(t)
		seedCatalog(t, repo)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := repo.Decrement(ctx, "S1", []domain.StockItem{{ProductID: 2, Quantity: 1}}); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		qty, _ := repo.GetStock(ctx, "S1", 2)
		assert.Equal(t, 0, qty)
	})

	t.Run("TransactionsAndOutbox", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()
		at := time.Date(2025, 9, 8, 9, 30, 0, 0, time.UTC)
		customer := "cust-1"

		newTx := func(key string) *domain.Transaction {
			return &domain.Transaction{
				ID:             uuid.New().String(),
				StoreID:        "S1",
				TenantID:       "T1",
				UserID:         "U1",
				SessionID:      "sess-1",
				CustomerID:     &customer,
				Status:         domain.TransactionPaid,
				PaymentMethod:  domain.PaymentCash,
				Subtotal:       decimal.RequireFromString("7000"),
				DiscountTotal:  decimal.Zero,
				TotalAmount:    decimal.RequireFromString("7000"),
				AmountTendered: decimal.RequireFromString("10000"),
				Change:         decimal.RequireFromString("3000"),
				IdempotencyKey: key,
				CreatedAt:      at,
				Items: []domain.TransactionItem{{
					ProductID:   1,
					ProductName: "Kopi Susu",
					Quantity:    2,
					UnitPrice:   decimal.RequireFromString("3500"),
					Discount:    decimal.Zero,
					Subtotal:    decimal.RequireFromString("7000"),
				}},
			}
		}

		first := newTx("key-1")
		require.NoError(t, repo.CreateTransaction(ctx, first))
		assert.Equal(t, "TRX-S1-20250908-000001", first.TransactionNumber)

		second := newTx("key-2")
		require.NoError(t, repo.CreateTransaction(ctx, second))
		assert.Equal(t, int64(2), second.Sequence)

		dup := newTx("key-1")
		assert.ErrorIs(t, repo.CreateTransaction(ctx, dup), store.ErrDuplicateIdempotencyKey)

		found, err := repo.GetTransaction(ctx, "S1", first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.TransactionNumber, found.TransactionNumber)
		require.Len(t, found.Items, 1)
		assert.Equal(t, "Kopi Susu", found.Items[0].ProductName)
		assert.True(t, decimal.RequireFromString("3000").Equal(found.Change))
		require.NotNil(t, found.CustomerID)
		assert.Equal(t, customer, *found.CustomerID)

		byKey, err := repo.GetTransactionByIdempotencyKey(ctx, "S1", "key-2")
		require.NoError(t, err)
		assert.Equal(t, second.ID, byKey.ID)

		_, err = repo.GetTransaction(ctx, "S2", first.ID)
		assert.ErrorIs(t, err, store.ErrTransactionNotFound)
		_, err = repo.GetTransaction(ctx, "S1", "not-a-uuid")
		assert.ErrorIs(t, err, store.ErrTransactionNotFound)

		events, err := repo.GetUnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2, "the duplicate must not leave an outbox row")
		assert.Equal(t, "S1", events[0].AggregateId)
		assert.Equal(t, EventPaymentCommitted, events[0].EventType)
		assert.Contains(t, string(events[0].Payload), first.TransactionNumber)

		require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))
		events, err = repo.GetUnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1)

		purged, err := repo.PurgeProcessedEvents(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), purged, "recently processed events are kept")
		purged, err = repo.PurgeProcessedEvents(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)
		events, err = repo.GetUnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1, "unprocessed events are never purged")
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		repo := setup(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := repo.GetTransactionByIdempotencyKey(ctx, "S1", "any-key")
		assert.Error(t, err)
	})
}
