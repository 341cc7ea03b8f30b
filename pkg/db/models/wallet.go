package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's internal ledger account. Balances only move together
// with an appended WalletTransaction in the same database transaction.
type Wallet struct {
	ID                     uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	AvailablePaise         int64     `gorm:"column:available_paise;not null;default:0"`
	PendingPaise           int64     `gorm:"column:pending_paise;not null;default:0"`
	ReservedPaise          int64     `gorm:"column:reserved_paise;not null;default:0"`
	TotalCreditedPaise     int64     `gorm:"column:total_credited_paise;not null;default:0"`
	TotalDebitedPaise      int64     `gorm:"column:total_debited_paise;not null;default:0"`
	DailyDebitLimitPaise   int64     `gorm:"column:daily_debit_limit_paise;not null;default:0"`
	MonthlyDebitLimitPaise int64     `gorm:"column:monthly_debit_limit_paise;not null;default:0"`
	Version                int       `gorm:"column:version;not null;default:0"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
