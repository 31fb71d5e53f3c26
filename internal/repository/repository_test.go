// Package repository tests run against a real PostgreSQL instance spun up
// with testcontainers-go. They are skipped when Docker is unavailable.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"loyalty-service/internal/model"
	"loyalty-service/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and
// returns a connection pool. Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return pool, cleanup
}

func createTestUser(t *testing.T, pool *pgxpool.Pool, phone string) *model.User {
	t.Helper()
	user, err := NewUserRepository(pool).Create(context.Background(), pool, "Test User", phone, "test@example.com", "hash")
	require.NoError(t, err)
	return user
}

func createTestStore(t *testing.T, pool *pgxpool.Pool, name string) *model.Supermarket {
	t.Helper()
	store, err := NewSupermarketRepository(pool).Create(context.Background(), &model.Supermarket{
		Name:           name,
		NormalizedName: NormalizeName(name),
		Active:         true,
	})
	require.NoError(t, err)
	return store
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_Create(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.Create(ctx, pool, "Alice", "+243810000001", "alice@example.com", "pinhash")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, model.UserStatusActive, user.Status)
	assert.Equal(t, int64(0), user.PointsBalance)
	assert.Nil(t, user.PointsExpiresAt)

	// Same phone number again must surface as a duplicate.
	_, err = repo.Create(ctx, pool, "Bob", "+243810000001", "bob@example.com", "pinhash")
	assert.ErrorIs(t, err, ErrDuplicatePhone)
}

func TestUserRepository_CreditPoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000002")

	expiresAt := time.Now().AddDate(0, 12, 0)
	updated, err := repo.CreditPoints(ctx, pool, user.ID, 450, 45_000, expiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(450), updated.PointsBalance)
	assert.Equal(t, int64(450), updated.PointsExpiring)
	assert.Equal(t, int64(45_000), updated.TotalSpent)
	require.NotNil(t, updated.PointsExpiresAt)
	require.NotNil(t, updated.LastReceiptAt)

	// A second credit joins the open tranche: the deadline must not move.
	firstDeadline := *updated.PointsExpiresAt
	later := time.Now().AddDate(0, 13, 0)
	updated, err = repo.CreditPoints(ctx, pool, user.ID, 100, 10_000, later)
	require.NoError(t, err)
	assert.Equal(t, int64(550), updated.PointsBalance)
	assert.Equal(t, int64(550), updated.PointsExpiring)
	assert.WithinDuration(t, firstDeadline, *updated.PointsExpiresAt, time.Second)
}

func TestUserRepository_DebitPoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000003")

	_, err := repo.CreditPoints(ctx, pool, user.ID, 500, 50_000, time.Now().AddDate(0, 12, 0))
	require.NoError(t, err)

	updated, err := repo.DebitPoints(ctx, pool, user.ID, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(200), updated.PointsBalance)

	// Overdraft must fail atomically and leave the balance untouched.
	_, err = repo.DebitPoints(ctx, pool, user.ID, 201)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	after, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), after.PointsBalance)
}

func TestUserRepository_DrainedTrancheResets(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000008")

	_, err := repo.CreditPoints(ctx, pool, user.ID, 500, 50_000, time.Now().Add(3*24*time.Hour))
	require.NoError(t, err)
	won, err := repo.MarkExpiryWarned(ctx, user.ID, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	// Spending the full tranche closes it: deadline and warning mark go
	// with the points.
	drained, err := repo.DebitPoints(ctx, pool, user.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), drained.PointsExpiring)
	assert.Nil(t, drained.PointsExpiresAt)
	assert.Nil(t, drained.PointsExpiryWarnedAt)

	// A fresh award starts a new tranche with its own deadline, not the
	// one the drained tranche carried.
	fresh := time.Now().AddDate(0, 12, 0)
	updated, err := repo.CreditPoints(ctx, pool, user.ID, 300, 30_000, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.PointsExpiring)
	require.NotNil(t, updated.PointsExpiresAt)
	assert.WithinDuration(t, fresh, *updated.PointsExpiresAt, time.Second)
	assert.Nil(t, updated.PointsExpiryWarnedAt)

	// The new tranche is nowhere near its deadline, so nothing expires.
	debited, err := repo.ExpireTranche(ctx, pool, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), debited)
}

func TestUserRepository_LapsedTrancheNotJoined(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000009")

	// Tranche whose deadline has passed but which no sweep has collected yet.
	_, err := repo.CreditPoints(ctx, pool, user.ID, 200, 20_000, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	// A new award must not inherit the stale deadline.
	fresh := time.Now().AddDate(0, 12, 0)
	updated, err := repo.CreditPoints(ctx, pool, user.ID, 300, 30_000, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(500), updated.PointsExpiring)
	require.NotNil(t, updated.PointsExpiresAt)
	assert.WithinDuration(t, fresh, *updated.PointsExpiresAt, time.Second)
}

func TestUserRepository_ExpireTranche(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000004")

	// Tranche of 500 expiring in the past, of which 300 were already spent.
	past := time.Now().Add(-time.Hour)
	_, err := repo.CreditPoints(ctx, pool, user.ID, 500, 50_000, past)
	require.NoError(t, err)
	_, err = repo.DebitPoints(ctx, pool, user.ID, 300)
	require.NoError(t, err)

	// The debit is clamped to the live balance, never the full tranche.
	debited, err := repo.ExpireTranche(ctx, pool, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(200), debited)

	after, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.PointsBalance)
	assert.Equal(t, int64(0), after.PointsExpiring)
	assert.Nil(t, after.PointsExpiresAt)

	// Second sweep finds nothing to expire.
	debited, err = repo.ExpireTranche(ctx, pool, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), debited)
}

func TestUserRepository_MarkExpiryWarned(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000005")

	soon := time.Now().Add(3 * 24 * time.Hour)
	_, err := repo.CreditPoints(ctx, pool, user.ID, 100, 10_000, soon)
	require.NoError(t, err)

	due, err := repo.ListExpiryWarningDue(ctx, time.Now(), 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, user.ID, due[0].ID)

	// Only one caller wins the warning mark.
	won, err := repo.MarkExpiryWarned(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkExpiryWarned(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	due, err = repo.ListExpiryWarningDue(ctx, time.Now(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// ============================================================================
// SupermarketRepository Tests
// ============================================================================

func TestSupermarketRepository_ResolveActiveByName(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSupermarketRepository(pool)
	ctx := context.Background()
	createTestStore(t, pool, "Kin Marché")

	// Resolution is case and whitespace insensitive.
	store, err := repo.ResolveActiveByName(ctx, "  KIN   MARCHÉ ")
	require.NoError(t, err)
	assert.Equal(t, "Kin Marché", store.Name)

	_, err = repo.ResolveActiveByName(ctx, "Corner Shop")
	assert.ErrorIs(t, err, ErrSupermarketNotFound)
}

func TestSupermarketRepository_InactiveNotResolved(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSupermarketRepository(pool)
	ctx := context.Background()
	store := createTestStore(t, pool, "City Market")

	store.Active = false
	require.NoError(t, repo.Update(ctx, store))

	_, err := repo.ResolveActiveByName(ctx, "City Market")
	assert.ErrorIs(t, err, ErrSupermarketNotFound)
}

// ============================================================================
// CampaignRepository Tests
// ============================================================================

func activeCampaign(brand string) *model.Campaign {
	now := time.Now()
	return &model.Campaign{
		Brand:          brand,
		StartsAt:       now.Add(-24 * time.Hour),
		EndsAt:         now.Add(24 * time.Hour),
		TargetAudience: model.AudienceAll,
		RewardType:     model.RewardTypePoints,
		RewardValue:    500,
	}
}

func TestCampaignRepository_ListCoveringStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCampaignRepository(pool)
	ctx := context.Background()
	inScope := createTestStore(t, pool, "Kin Marché")
	outOfScope := createTestStore(t, pool, "City Market")

	c, err := repo.Create(ctx, activeCampaign("Back to School"))
	require.NoError(t, err)
	require.NoError(t, repo.SetScope(ctx, c.ID, []int64{inScope.ID}))
	require.NoError(t, repo.SetStatus(ctx, c.ID, model.CampaignStatusActive))

	covering, err := repo.ListCoveringStore(ctx, inScope.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, covering, 1)
	assert.Equal(t, "Back to School", covering[0].Brand)

	covering, err = repo.ListCoveringStore(ctx, outOfScope.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, covering)

	// Outside the date range the campaign stops covering.
	covering, err = repo.ListCoveringStore(ctx, inScope.ID, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, covering)

	// Draft campaigns never cover.
	require.NoError(t, repo.SetStatus(ctx, c.ID, model.CampaignStatusEnded))
	covering, err = repo.ListCoveringStore(ctx, inScope.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, covering)
}

func TestCampaignRepository_TryIncrementConversions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCampaignRepository(pool)
	ctx := context.Background()

	cap := int32(3)
	c := activeCampaign("Capped")
	c.MaxRedemptions = &cap
	c, err := repo.Create(ctx, c)
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, c.ID, model.CampaignStatusActive))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.TryIncrementConversions(ctx, pool, c.ID))
	}

	// The cap is enforced by the conditional update itself.
	err = repo.TryIncrementConversions(ctx, pool, c.ID)
	assert.ErrorIs(t, err, ErrCampaignExhausted)

	after, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), after.Conversions)
}

func TestCampaignRepository_UncappedIncrement(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCampaignRepository(pool)
	ctx := context.Background()

	c, err := repo.Create(ctx, activeCampaign("Uncapped"))
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, c.ID, model.CampaignStatusActive))

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.TryIncrementConversions(ctx, pool, c.ID))
	}
}

// ============================================================================
// ReceiptRepository Tests
// ============================================================================

func testReceipt(userID int64, storeID int64, hash string) *model.Receipt {
	return &model.Receipt{
		ID:              uuid.NewString(),
		UserID:          userID,
		SupermarketID:   &storeID,
		SupermarketName: "Kin Marché",
		Amount:          45_000,
		ReceiptDate:     time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Status:          model.ReceiptStatusVerified,
		Confidence:      0.93,
		ImageHash:       hash,
	}
}

func TestReceiptRepository_DuplicateImageHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewReceiptRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000010")
	store := createTestStore(t, pool, "Kin Marché")

	require.NoError(t, repo.Insert(ctx, pool, testReceipt(user.ID, store.ID, "hash-a")))

	exists, err := repo.ExistsByImageHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.True(t, exists)

	// The unique index catches the race the pre-check can miss.
	dup := testReceipt(user.ID, store.ID, "hash-a")
	err = repo.Insert(ctx, pool, dup)
	assert.ErrorIs(t, err, ErrDuplicateImage)
}

func TestReceiptRepository_ExistsSimilar(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewReceiptRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000011")
	store := createTestStore(t, pool, "Kin Marché")

	require.NoError(t, repo.Insert(ctx, pool, testReceipt(user.ID, store.ID, "hash-b")))

	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	similar, err := repo.ExistsSimilar(ctx, "kin marché", 45_000, date)
	require.NoError(t, err)
	assert.True(t, similar)

	similar, err = repo.ExistsSimilar(ctx, "kin marché", 45_001, date)
	require.NoError(t, err)
	assert.False(t, similar)

	similar, err = repo.ExistsSimilar(ctx, "kin marché", 45_000, date.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, similar)
}

func TestReceiptRepository_CountRecentByUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewReceiptRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000012")
	store := createTestStore(t, pool, "Kin Marché")

	for i := 0; i < 3; i++ {
		rc := testReceipt(user.ID, store.ID, uuid.NewString())
		require.NoError(t, repo.Insert(ctx, pool, rc))
	}

	count, err := repo.CountRecentByUser(ctx, user.ID, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountRecentByUser(ctx, user.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReceiptRepository_ModerateSingleShot(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewReceiptRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000013")
	store := createTestStore(t, pool, "Kin Marché")

	rc := testReceipt(user.ID, store.ID, "hash-c")
	rc.Status = model.ReceiptStatusPending
	require.NoError(t, repo.Insert(ctx, pool, rc))

	ok, err := repo.Moderate(ctx, pool, rc.ID, model.ReceiptStatusVerified, 450, nil, rc.SupermarketID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// The losing moderator affects zero rows.
	ok, err = repo.Moderate(ctx, pool, rc.ID, model.ReceiptStatusRejected, 0, nil, rc.SupermarketID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := repo.GetByID(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptStatusVerified, after.Status)
	assert.Equal(t, int64(450), after.PointsAwarded)
}

func TestReceiptRepository_ListPending(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewReceiptRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000014")
	store := createTestStore(t, pool, "Kin Marché")

	verified := testReceipt(user.ID, store.ID, "hash-d")
	require.NoError(t, repo.Insert(ctx, pool, verified))

	pending := testReceipt(user.ID, store.ID, "hash-e")
	pending.Status = model.ReceiptStatusPending
	require.NoError(t, repo.Insert(ctx, pool, pending))

	list, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)
}

// ============================================================================
// PointTxRepository Tests
// ============================================================================

func TestPointTxRepository_CreateAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPointTxRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000015")

	desc := "Receipt at Kin Marché"
	tx, err := repo.Create(ctx, pool, user.ID, 450, model.TxTypeReceiptAward, &desc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(450), tx.Amount)
	assert.Equal(t, model.TxTypeReceiptAward, tx.Type)

	_, err = repo.Create(ctx, pool, user.ID, -200, model.TxTypeRedemption, nil, nil)
	require.NoError(t, err)

	txs, err := repo.ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	// Newest first.
	assert.Equal(t, int64(-200), txs[0].Amount)
}

// ============================================================================
// NotificationRepository Tests
// ============================================================================

func TestNotificationRepository_MarkRead(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewNotificationRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, pool, "+243810000016")
	other := createTestUser(t, pool, "+243810000017")

	require.NoError(t, repo.Create(ctx, pool, user.ID, "Points earned", "msg", model.NotificationTypeReward))

	list, err := repo.ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Read)

	// A different user cannot mark someone else's notification.
	require.NoError(t, repo.MarkRead(ctx, other.ID, list[0].ID))
	list, _ = repo.ListByUser(ctx, user.ID, 10)
	assert.False(t, list[0].Read)

	require.NoError(t, repo.MarkRead(ctx, user.ID, list[0].ID))
	list, _ = repo.ListByUser(ctx, user.ID, 10)
	assert.True(t, list[0].Read)
}
