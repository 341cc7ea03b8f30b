package listings

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateListingInput captures what a farmer supplies for a new listing.
// DiscountPercent is the only place a discount enters the system; orders
// snapshot it from the listing at placement.
type CreateListingInput struct {
	FarmerID          uuid.UUID
	CropName          string
	GradeTags         []string
	Unit              enums.CropUnit
	PricePerUnitPaise int64
	Quantity          int
	DiscountPercent   decimal.Decimal
}

// Service defines listing operations, including the stock moves the order
// orchestrator composes into its own transactions.
type Service interface {
	Create(ctx context.Context, input CreateListingInput) (*models.Listing, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Listing, error)
	Hide(ctx context.Context, farmerID, id uuid.UUID) error
	Reserve(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error
	Release(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error
	CommitSale(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
}

// NewService builds a listing service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateListingInput) (*models.Listing, error) {
	if input.FarmerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if strings.TrimSpace(input.CropName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "crop name required")
	}
	if input.PricePerUnitPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price per unit must be positive")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.DiscountPercent.IsNegative() || input.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount percent out of range")
	}
	unit := input.Unit
	if unit == "" {
		unit = enums.CropUnitKilogram
	}
	if !unit.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid crop unit")
	}

	listing := &models.Listing{
		FarmerID:          input.FarmerID,
		CropName:          strings.TrimSpace(input.CropName),
		GradeTags:         input.GradeTags,
		Unit:              unit,
		PricePerUnitPaise: input.PricePerUnitPaise,
		DiscountPercent:   input.DiscountPercent.String(),
		Quantity:          input.Quantity,
		Status:            enums.ListingStatusAvailable,
	}
	if err := s.repo.Create(ctx, listing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create listing")
	}
	return listing, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id required")
	}
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	return listing, nil
}

func (s *service) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Listing, error) {
	if farmerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "farmer id required")
	}
	rows, err := s.repo.ListByFarmer(ctx, farmerID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list listings")
	}
	return rows, nil
}

func (s *service) Hide(ctx context.Context, farmerID, id uuid.UUID) error {
	listing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if listing.FarmerID != farmerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "listing does not belong to farmer")
	}
	if err := s.repo.UpdateStatus(ctx, id, enums.ListingStatusHidden); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hide listing")
	}
	return nil
}

// Reserve holds stock inside the caller's transaction. Status is refreshed
// in the same tx so readers never see stale availability.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	repo := s.repo.WithTx(tx)
	if err := repo.Reserve(ctx, listingID, qty); err != nil {
		return err
	}
	return repo.RecomputeStatus(ctx, listingID)
}

// Release returns reserved stock inside the caller's transaction.
func (s *service) Release(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	repo := s.repo.WithTx(tx)
	if err := repo.Release(ctx, listingID, qty); err != nil {
		return err
	}
	return repo.RecomputeStatus(ctx, listingID)
}

// CommitSale finalizes reserved stock as sold inside the caller's transaction.
func (s *service) CommitSale(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	repo := s.repo.WithTx(tx)
	if err := repo.CommitSale(ctx, listingID, qty); err != nil {
		return err
	}
	return repo.RecomputeStatus(ctx, listingID)
}
