package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/enums"
)

// WalletTransaction is one immutable row in a wallet's append-only log.
// Reference loosely correlates the row to an order number or payment id;
// it is deliberately not a foreign key so manual top-ups stay representable.
type WalletTransaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID    uuid.UUID               `gorm:"column:wallet_id;type:uuid;not null;index"`
	Type        enums.TransactionType   `gorm:"column:type;type:wallet_transaction_type;not null"`
	AmountPaise int64                   `gorm:"column:amount_paise;not null"`
	Description string                  `gorm:"column:description;not null"`
	Reference   string                  `gorm:"column:reference;not null;default:'';index"`
	Status      enums.TransactionStatus `gorm:"column:status;type:wallet_transaction_status;not null;default:'completed'"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
}
