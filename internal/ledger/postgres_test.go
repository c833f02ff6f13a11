package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/migrate"
)

// openPostgres runs the embedded migrations against CITYPAY_TEST_DB_DSN.
func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("CITYPAY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("CITYPAY_TEST_DB_DSN is not set")
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, migrate.Run(context.Background(), sqlDB, migrate.DefaultDir, "up"))
	return conn
}

func TestPostgres_ConcurrentInsertsReserveOnce(t *testing.T) {
	conn := openPostgres(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	merchant := &models.Merchant{ID: uuid.New(), Name: "Clerk", GatewayLocationID: "LOC"}
	require.NoError(t, conn.Create(merchant).Error)

	key := "pg-race-" + uuid.NewString()
	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		dupes    int
		otherErr error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newPendingRecord(key, uuid.New())
			rec.MerchantID = merchant.ID
			err := repo.Insert(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case err == ErrDuplicateKey:
				dupes++
			default:
				otherErr = err
			}
		}()
	}
	wg.Wait()

	require.NoError(t, otherErr)
	require.Equal(t, 1, winners)
	require.Equal(t, workers-1, dupes)
}
