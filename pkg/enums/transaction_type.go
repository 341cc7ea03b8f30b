package enums

import "fmt"

// TransactionType maps to the wallet_transaction_type enum in Postgres.
type TransactionType string

const (
	TransactionTypeCredit     TransactionType = "credit"
	TransactionTypeDebit      TransactionType = "debit"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeDeposit    TransactionType = "deposit"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeCredit,
	TransactionTypeDebit,
	TransactionTypeTransfer,
	TransactionTypeRefund,
	TransactionTypeWithdrawal,
	TransactionTypeDeposit,
}

// IsCredit reports whether the type increases the available balance.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeRefund, TransactionTypeDeposit:
		return true
	default:
		return false
	}
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
