package listings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

func setupListingsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	listings := `
CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  farmer_id TEXT NOT NULL,
  crop_name TEXT NOT NULL,
  grade_tags TEXT,
  unit TEXT NOT NULL DEFAULT 'kg',
  price_per_unit_paise INTEGER NOT NULL,
  discount_percent TEXT NOT NULL DEFAULT '0',
  quantity INTEGER NOT NULL,
  reserved_qty INTEGER NOT NULL DEFAULT 0,
  sold_qty INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'available',
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(listings).Error)
	return db
}

func seedListing(t *testing.T, db *gorm.DB, quantity, reserved, sold int, status enums.ListingStatus) *models.Listing {
	t.Helper()

	listing := &models.Listing{
		ID:                uuid.New(),
		FarmerID:          uuid.New(),
		CropName:          "Onion",
		Unit:              enums.CropUnitQuintal,
		PricePerUnitPaise: 120000,
		DiscountPercent:   "0",
		Quantity:          quantity,
		ReservedQty:       reserved,
		SoldQty:           sold,
		Status:            status,
	}
	require.NoError(t, db.Create(listing).Error)
	return listing
}

func TestRepositoryReserve_guardsAvailability(t *testing.T) {
	db := setupListingsTestDB(t)
	repo := NewRepository(db)

	listing := seedListing(t, db, 10, 3, 2, enums.ListingStatusAvailable)

	// 5 units still available
	require.NoError(t, repo.Reserve(context.Background(), listing.ID, 5))

	err := repo.Reserve(context.Background(), listing.ID, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))

	stored, err := repo.FindByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.ReservedQty)
	assert.Equal(t, 0, stored.AvailableQty())
}

func TestRepositoryRelease_guardsReserved(t *testing.T) {
	db := setupListingsTestDB(t)
	repo := NewRepository(db)

	listing := seedListing(t, db, 10, 4, 0, enums.ListingStatusAvailable)

	require.NoError(t, repo.Release(context.Background(), listing.ID, 3))

	err := repo.Release(context.Background(), listing.ID, 2)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	stored, err := repo.FindByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ReservedQty)
}

func TestRepositoryCommitSale_movesReservedToSold(t *testing.T) {
	db := setupListingsTestDB(t)
	repo := NewRepository(db)

	listing := seedListing(t, db, 10, 6, 0, enums.ListingStatusAvailable)

	require.NoError(t, repo.CommitSale(context.Background(), listing.ID, 6))

	stored, err := repo.FindByID(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ReservedQty)
	assert.Equal(t, 6, stored.SoldQty)

	err = repo.CommitSale(context.Background(), listing.ID, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestRepositoryRecomputeStatus(t *testing.T) {
	db := setupListingsTestDB(t)
	repo := NewRepository(db)

	cases := []struct {
		name     string
		quantity int
		reserved int
		sold     int
		initial  enums.ListingStatus
		want     enums.ListingStatus
	}{
		{"stock left stays available", 10, 3, 2, enums.ListingStatusReserved, enums.ListingStatusAvailable},
		{"all reserved", 10, 10, 0, enums.ListingStatusAvailable, enums.ListingStatusReserved},
		{"everything sold", 10, 0, 10, enums.ListingStatusAvailable, enums.ListingStatusSold},
		{"hidden stays hidden", 10, 0, 0, enums.ListingStatusHidden, enums.ListingStatusHidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			listing := seedListing(t, db, tc.quantity, tc.reserved, tc.sold, tc.initial)
			require.NoError(t, repo.RecomputeStatus(context.Background(), listing.ID))

			stored, err := repo.FindByID(context.Background(), listing.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, stored.Status)
		})
	}
}

type listingsTxRunner struct{}

func (listingsTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestServiceCreateBoundsDiscount(t *testing.T) {
	db := setupListingsTestDB(t)
	svc, err := NewService(NewRepository(db), listingsTxRunner{}, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)

	base := CreateListingInput{
		FarmerID:          uuid.New(),
		CropName:          "Potato",
		Unit:              enums.CropUnitKilogram,
		PricePerUnitPaise: 2000,
		Quantity:          50,
	}

	for _, tc := range []struct {
		name     string
		discount decimal.Decimal
	}{
		{"negative discount", decimal.NewFromInt(-1)},
		{"discount over 100", decimal.NewFromInt(101)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			input := base
			input.DiscountPercent = tc.discount
			_, err := svc.Create(context.Background(), input)
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
		})
	}

	input := base
	input.DiscountPercent = decimal.RequireFromString("12.5")
	listing, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "12.5", listing.DiscountPercent)
}

func TestRepositoryListByFarmer(t *testing.T) {
	db := setupListingsTestDB(t)
	repo := NewRepository(db)

	listing := seedListing(t, db, 5, 0, 0, enums.ListingStatusAvailable)
	seedListing(t, db, 8, 0, 0, enums.ListingStatusAvailable)

	rows, err := repo.ListByFarmer(context.Background(), listing.FarmerID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, listing.ID, rows[0].ID)
}
