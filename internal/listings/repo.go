package listings

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
)

// Repository manages listing persistence and the stock counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Listing, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.ListingStatus) error
	Reserve(ctx context.Context, id uuid.UUID, qty int) error
	Release(ctx context.Context, id uuid.UUID, qty int) error
	CommitSale(ctx context.Context, id uuid.UUID, qty int) error
	RecomputeStatus(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a listing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *repository) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Listing, error) {
	var rows []models.Listing
	q := r.db.WithContext(ctx).
		Where("farmer_id = ?", farmerID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.ListingStatus) error {
	return r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		}).Error
}

// Reserve moves qty from available to reserved in one guarded statement so
// two concurrent buyers can never both take the last units.
func (r *repository) Reserve(ctx context.Context, id uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE listings
		SET reserved_qty = reserved_qty + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity - reserved_qty - sold_qty >= ?
	`, qty, id, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock available")
	}
	return nil
}

// Release returns reserved units to the available pool.
func (r *repository) Release(ctx context.Context, id uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE listings
		SET reserved_qty = reserved_qty - ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved_qty >= ?
	`, qty, id, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "release exceeds reserved stock")
	}
	return nil
}

// CommitSale converts reserved units into sold units on delivery.
func (r *repository) CommitSale(ctx context.Context, id uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE listings
		SET reserved_qty = reserved_qty - ?,
			sold_qty = sold_qty + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved_qty >= ?
	`, qty, qty, id, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "commit sale")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "commit exceeds reserved stock")
	}
	return nil
}

// RecomputeStatus derives the listing status from the stock counters.
// Hidden listings stay hidden until the farmer unhides them.
func (r *repository) RecomputeStatus(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE listings
		SET status = CASE
				WHEN quantity - reserved_qty - sold_qty > 0 THEN 'available'
				WHEN reserved_qty > 0 THEN 'reserved'
				WHEN sold_qty >= quantity THEN 'sold'
				ELSE 'out_of_stock'
			END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status <> 'hidden'
	`, id).Error
}
