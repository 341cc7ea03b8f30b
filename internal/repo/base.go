package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base holds the gorm handle every domain repository embeds. Repositories
// rebind it to a transaction via their WithTx methods.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB binds the connection to the request context so statement deadlines and
// cancellation propagate into the driver.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx != nil {
		return b.db.WithContext(ctx)
	}
	return b.db
}
