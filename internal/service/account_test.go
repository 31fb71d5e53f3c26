package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"loyalty-service/internal/model"
	"loyalty-service/internal/pkg/lock"
	"loyalty-service/internal/pkg/mail"
	"loyalty-service/internal/pkg/token"
	"loyalty-service/internal/repository"
)

func newAccountService(env *testEnv) *AccountService {
	rewards := repository.NewRewardRepository(env.pool)
	return NewAccountService(
		env.pool, env.users, rewards, env.receipts, env.ledger, env.notifs,
		mail.NewClient("", "", ""), lock.NewUserLock(),
		AccountSettings{
			SignupBonus:  100,
			ExpiryMonths: 12,
			SegmentRules: model.DefaultSegmentRules,
		},
	)
}

func TestAccountService_RegisterCreditsSignupBonus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	env := newTestEnv(t, pool)
	svc := newAccountService(env)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "+243819000001", "alice@example.com", "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.PointsBalance)
	assert.Equal(t, int64(100), user.PointsExpiring)
	require.NotNil(t, user.PointsExpiresAt)

	// PIN is stored hashed, never plaintext.
	assert.NotEqual(t, "1234", user.PINHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte("1234")))

	txs, err := env.ledger.ListByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTypeSignupBonus, txs[0].Type)
	assert.Equal(t, int64(100), txs[0].Amount)

	// Duplicate phone is a typed rejection, not an opaque failure.
	_, err = svc.Register(ctx, "Bob", "+243819000001", "", "5678")
	assert.Equal(t, CodeInvalidInput, rejectionCode(t, err))
}

func TestAccountService_RegisterValidation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	env := newTestEnv(t, pool)
	svc := newAccountService(env)
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "+243819000002", "", "1234")
	assert.Equal(t, CodeInvalidInput, rejectionCode(t, err))

	_, err = svc.Register(ctx, "Alice", "not-a-phone", "", "1234")
	assert.Equal(t, CodeInvalidInput, rejectionCode(t, err))

	_, err = svc.Register(ctx, "Alice", "+243819000002", "", "12")
	assert.Equal(t, CodeInvalidInput, rejectionCode(t, err))
}

func TestAccountService_RedeemReward(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	env := newTestEnv(t, pool)
	svc := newAccountService(env)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "+243819000003", "", "1234")
	require.NoError(t, err)

	rewards := repository.NewRewardRepository(pool)
	reward, err := rewards.Create(ctx, &model.Reward{
		Title:      "Free Coffee",
		CostPoints: 80,
		RewardType: "voucher",
		Active:     true,
	})
	require.NoError(t, err)

	after, err := svc.RedeemReward(ctx, user.ID, reward.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), after.PointsBalance)

	// 20 points left against an 80-point reward.
	_, err = svc.RedeemReward(ctx, user.ID, reward.ID)
	assert.Equal(t, CodeInsufficientPoints, rejectionCode(t, err))

	unchanged, err := env.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), unchanged.PointsBalance)

	// Deactivated rewards cannot be redeemed.
	require.NoError(t, rewards.SetActive(ctx, reward.ID, false))
	_, err = svc.RedeemReward(ctx, user.ID, reward.ID)
	assert.Equal(t, CodeInvalidInput, rejectionCode(t, err))
}

func TestAuthService_LoginAndOTP(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	env := newTestEnv(t, pool)
	accounts := newAccountService(env)
	tokens := token.NewManager("test-secret", time.Hour)
	auth := NewAuthService(env.users, tokens, mail.NewClient("", "", ""),
		func(int64) bool { return false }, 10*time.Minute)
	ctx := context.Background()

	_, err := accounts.Register(ctx, "Alice", "+243819000004", "alice@example.com", "1234")
	require.NoError(t, err)

	session, err := auth.Login(ctx, "+243819000004", "1234")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)

	claims, err := tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID)
	assert.False(t, claims.Admin)

	_, err = auth.Login(ctx, "+243819000004", "9999")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, "+243819999999", "1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// The one-time-code flow issues a session without the PIN.
	require.NoError(t, auth.RequestOTP(ctx, "+243819000004"))

	// The code only exists hashed; set a known one for the check.
	hash, err := bcrypt.GenerateFromPassword([]byte("135790"), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, env.users.SetOTP(ctx, session.User.ID, string(hash), time.Now().Add(10*time.Minute)))

	_, err = auth.VerifyOTP(ctx, "+243819000004", "000000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	otpSession, err := auth.VerifyOTP(ctx, "+243819000004", "135790")
	require.NoError(t, err)
	assert.NotEmpty(t, otpSession.Token)

	// The code is single use.
	_, err = auth.VerifyOTP(ctx, "+243819000004", "135790")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
