package wallets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/config"
	dbpkg "github.com/agrimandi/agrimandi-backend/pkg/db"
	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MoveInput carries the ledger metadata for a balance movement.
type MoveInput struct {
	UserID      uuid.UUID
	AmountPaise int64
	Type        enums.TransactionType
	Reference   string
	Description string
}

// TransactionPage is one page of a wallet's transaction history.
type TransactionPage struct {
	Items      []models.WalletTransaction
	NextCursor string
}

// Service defines wallet ledger operations. Credit and Debit run inside the
// caller's transaction so fund moves commit atomically with order state.
type Service interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, tx *gorm.DB, input MoveInput) error
	Debit(ctx context.Context, tx *gorm.DB, input MoveInput) error
	ReserveWithdrawal(ctx context.Context, userID uuid.UUID, amountPaise int64) error
	Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error)
}

type service struct {
	repo Repository
	tx   txRunner
	cfg  config.WalletConfig
	logg *logger.Logger
}

// NewService builds a wallet service with the required dependencies.
func NewService(repo Repository, tx txRunner, cfg config.WalletConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallets repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, cfg: cfg, logg: logg}, nil
}

// EnsureWallet returns the user's wallet, creating it on first use. A lost
// create race falls back to reading the winner's row.
func (s *service) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	wallet, err := s.repo.FindByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	created := &models.Wallet{
		UserID:                 userID,
		DailyDebitLimitPaise:   s.cfg.DailyDebitLimitPaise,
		MonthlyDebitLimitPaise: s.cfg.MonthlyDebitLimitPaise,
	}
	if err := s.repo.Create(ctx, created); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return s.repo.FindByUserID(ctx, userID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	return created, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input MoveInput) error {
	if err := validateMove(input); err != nil {
		return err
	}
	if !input.Type.IsCredit() {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction type is not a credit")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := s.walletFor(ctx, repo, input.UserID)
	if err != nil {
		return err
	}
	if err := repo.CreditBalance(ctx, wallet.ID, input.AmountPaise); err != nil {
		return err
	}
	return s.appendRow(ctx, repo, wallet.ID, input)
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input MoveInput) error {
	if err := validateMove(input); err != nil {
		return err
	}
	if input.Type.IsCredit() {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction type is not a debit")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := s.walletFor(ctx, repo, input.UserID)
	if err != nil {
		return err
	}
	if err := s.checkDebitLimits(ctx, repo, wallet, input.AmountPaise); err != nil {
		return err
	}
	if err := repo.DebitBalance(ctx, wallet.ID, input.AmountPaise); err != nil {
		return err
	}
	return s.appendRow(ctx, repo, wallet.ID, input)
}

// ReserveWithdrawal parks funds for payout processing. The transaction row
// stays pending until the payout pipeline completes it.
func (s *service) ReserveWithdrawal(ctx context.Context, userID uuid.UUID, amountPaise int64) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if amountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := s.walletFor(ctx, repo, userID)
		if err != nil {
			return err
		}
		if err := repo.ReserveBalance(ctx, wallet.ID, amountPaise); err != nil {
			return err
		}
		return repo.AppendTransaction(ctx, &models.WalletTransaction{
			WalletID:    wallet.ID,
			Type:        enums.TransactionTypeWithdrawal,
			AmountPaise: amountPaise,
			Description: "withdrawal reserved",
			Status:      enums.TransactionStatusPending,
		})
	})
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	wallet, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	wallet, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListTransactions(ctx, wallet.ID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}

	page := &TransactionPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) walletFor(ctx context.Context, repo Repository, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) checkDebitLimits(ctx context.Context, repo Repository, wallet *models.Wallet, amount int64) error {
	now := time.Now()
	if wallet.DailyDebitLimitPaise > 0 {
		spent, err := repo.SumCompletedDebitsSince(ctx, wallet.ID, now.Add(-24*time.Hour))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum daily debits")
		}
		if spent+amount > wallet.DailyDebitLimitPaise {
			return pkgerrors.New(pkgerrors.CodeLimitExceeded, "daily debit limit exceeded")
		}
	}
	if wallet.MonthlyDebitLimitPaise > 0 {
		spent, err := repo.SumCompletedDebitsSince(ctx, wallet.ID, now.Add(-30*24*time.Hour))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum monthly debits")
		}
		if spent+amount > wallet.MonthlyDebitLimitPaise {
			return pkgerrors.New(pkgerrors.CodeLimitExceeded, "monthly debit limit exceeded")
		}
	}
	return nil
}

func (s *service) appendRow(ctx context.Context, repo Repository, walletID uuid.UUID, input MoveInput) error {
	row := &models.WalletTransaction{
		WalletID:    walletID,
		Type:        input.Type,
		AmountPaise: input.AmountPaise,
		Description: input.Description,
		Reference:   input.Reference,
		Status:      enums.TransactionStatusCompleted,
	}
	if err := repo.AppendTransaction(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
	}
	return nil
}

func validateMove(input MoveInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AmountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	return nil
}
