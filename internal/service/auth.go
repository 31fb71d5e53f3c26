package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"loyalty-service/internal/model"
	"loyalty-service/internal/pkg/mail"
	"loyalty-service/internal/pkg/token"
	"loyalty-service/internal/repository"
)

// ErrInvalidCredentials is returned for any failed login attempt. The
// message never distinguishes a missing account from a wrong PIN.
var ErrInvalidCredentials = errors.New("invalid phone or PIN")

// AuthService issues session tokens for phone+PIN logins and handles the
// one-time-code fallback flow.
type AuthService struct {
	users   *repository.UserRepository
	tokens  *token.Manager
	mailer  *mail.Client
	isAdmin func(userID int64) bool
	otpTTL  time.Duration
}

// NewAuthService creates the auth service. isAdmin decides which user IDs
// get admin claims on their tokens.
func NewAuthService(users *repository.UserRepository, tokens *token.Manager, mailer *mail.Client, isAdmin func(int64) bool, otpTTL time.Duration) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
		isAdmin: isAdmin,
		otpTTL:  otpTTL,
	}
}

// Session is an issued login session.
type Session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login verifies phone+PIN credentials and issues a session token.
func (s *AuthService) Login(ctx context.Context, phone, pin string) (*Session, error) {
	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status == model.UserStatusBanned {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// RequestOTP generates a one-time code for the account behind the phone
// number and emails it. Responds identically whether or not the account
// exists, to avoid leaking registered numbers.
func (s *AuthService) RequestOTP(ctx context.Context, phone string) error {
	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.Email == "" {
		return nil
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	if err := s.users.SetOTP(ctx, user.ID, string(codeHash), time.Now().Add(s.otpTTL)); err != nil {
		return err
	}

	s.mailer.SendOTP(user.Email, code)
	log.Info().Int64("user_id", user.ID).Msg("One-time code issued")
	return nil
}

// VerifyOTP checks a one-time code and issues a session token. The code
// is single use: it is cleared on success.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string) (*Session, error) {
	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	codeHash, expiresAt, err := s.users.GetOTP(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if codeHash == "" || expiresAt == nil || time.Now().After(*expiresAt) {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(codeHash), []byte(code)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.users.ClearOTP(ctx, user.ID); err != nil {
		return nil, err
	}

	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*Session, error) {
	tok, err := s.tokens.Issue(user.ID, s.isAdmin(user.ID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Session{Token: tok, User: user}, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
