package service

import (
	"context"
	"time"

	"github.com/tradesignal/billing-server-go/internal/audit"
	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/util"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

type AuthResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	AccountID string     `json:"accountId"`
	Tier      model.Tier `json:"tier"`
}

type AuthService struct {
	accounts repository.AccountRepository
	tokens   *TokenManager
	now      func() time.Time
}

func NewAuthService(accounts repository.AccountRepository, tokens *TokenManager) *AuthService {
	return &AuthService{accounts: accounts, tokens: tokens, now: time.Now}
}

// Register creates a FREE account with a full allotment anchored at now.
func (s *AuthService) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = util.NormalizeEmail(email)
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be a valid address")
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.InvalidInput("password", "must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return nil, apperrors.InvalidInput("password", "must be at most 72 bytes")
	}

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("Account")
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, apperrors.Internal("Failed to hash password").WithCause(err)
	}

	account, err := s.accounts.Create(ctx, model.CreateAccountParams{
		Email:        &email,
		PasswordHash: &hash,
		Credits:      config.FreeMonthlyCredits,
		ResetAnchor:  s.now().UTC(),
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("Account")
		}
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAccountCreate,
		AccountID: account.ID,
	})

	return s.issue(account)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	account, err := s.accounts.FindByEmail(ctx, util.NormalizeEmail(email))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil || account.PasswordHash == nil || !util.CheckPasswordHash(password, *account.PasswordHash) {
		return nil, apperrors.Unauthorized("Invalid email or password")
	}
	return s.issue(account)
}

func (s *AuthService) issue(account *model.Account) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(account.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue token").WithCause(err)
	}
	return &AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		AccountID: account.ID,
		Tier:      account.Tier,
	}, nil
}
