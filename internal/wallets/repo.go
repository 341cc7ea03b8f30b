package wallets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/pagination"
)

// Repository manages wallet rows and their append-only transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, wallet *models.Wallet) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	CreditBalance(ctx context.Context, walletID uuid.UUID, amount int64) error
	DebitBalance(ctx context.Context, walletID uuid.UUID, amount int64) error
	ReserveBalance(ctx context.Context, walletID uuid.UUID, amount int64) error
	AppendTransaction(ctx context.Context, row *models.WalletTransaction) error
	SumCompletedDebitsSince(ctx context.Context, walletID uuid.UUID, since time.Time) (int64, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CreditBalance adds funds in one statement; totals move with the balance so
// the conservation check never observes a partial write.
func (r *repository) CreditBalance(ctx context.Context, walletID uuid.UUID, amount int64) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE wallets
		SET available_paise = available_paise + ?,
			total_credited_paise = total_credited_paise + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amount, amount, walletID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "credit wallet")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	return nil
}

// DebitBalance removes funds only when the available balance covers the
// amount, making concurrent over-draws impossible.
func (r *repository) DebitBalance(ctx context.Context, walletID uuid.UUID, amount int64) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE wallets
		SET available_paise = available_paise - ?,
			total_debited_paise = total_debited_paise + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND available_paise >= ?
	`, amount, amount, walletID, amount)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "debit wallet")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance")
	}
	return nil
}

// ReserveBalance moves funds from available to reserved pending withdrawal.
func (r *repository) ReserveBalance(ctx context.Context, walletID uuid.UUID, amount int64) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE wallets
		SET available_paise = available_paise - ?,
			reserved_paise = reserved_paise + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND available_paise >= ?
	`, amount, amount, walletID, amount)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve wallet funds")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance")
	}
	return nil
}

func (r *repository) AppendTransaction(ctx context.Context, row *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) SumCompletedDebitsSince(ctx context.Context, walletID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount_paise), 0)").
		Where("wallet_id = ? AND status = ? AND created_at >= ?", walletID, enums.TransactionStatusCompleted, since).
		Where("type IN ?", []enums.TransactionType{
			enums.TransactionTypeDebit,
			enums.TransactionTypeWithdrawal,
			enums.TransactionTypeTransfer,
		}).
		Scan(&total).Error
	return total, err
}

func (r *repository) ListTransactions(ctx context.Context, walletID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	q := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var rows []models.WalletTransaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
