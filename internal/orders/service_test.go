package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrimandi/agrimandi-backend/internal/wallets"
	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox"
	"github.com/agrimandi/agrimandi-backend/pkg/types"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubOrderRepo struct {
	orders        map[uuid.UUID]*models.Order
	created       []*models.Order
	createNums    []string
	createErrs    []error
	casCalls      int
	conflictsLeft int
}

func newStubOrderRepo(orders ...*models.Order) *stubOrderRepo {
	repo := &stubOrderRepo{orders: map[uuid.UUID]*models.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *stubOrderRepo) WithTx(tx *gorm.DB) Repository { return r }

func (r *stubOrderRepo) Create(ctx context.Context, order *models.Order) error {
	r.createNums = append(r.createNums, order.OrderNumber)
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return err
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	r.orders[order.ID] = order
	r.created = append(r.created, order)
	return nil
}

func (r *stubOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *stubOrderRepo) FindByOrderNumber(ctx context.Context, number string) (*models.Order, error) {
	for _, order := range r.orders {
		if order.OrderNumber == number {
			copied := *order
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubOrderRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error) {
	var rows []models.Order
	for _, order := range r.orders {
		if order.BuyerID == buyerID {
			rows = append(rows, *order)
		}
	}
	return rows, nil
}

func (r *stubOrderRepo) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit int) ([]models.Order, error) {
	var rows []models.Order
	for _, order := range r.orders {
		if order.FarmerID == farmerID {
			rows = append(rows, *order)
		}
	}
	return rows, nil
}

func (r *stubOrderRepo) ListAll(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	for _, order := range r.orders {
		rows = append(rows, *order)
	}
	return rows, nil
}

func (r *stubOrderRepo) UpdateCAS(ctx context.Context, order *models.Order) error {
	r.casCalls++
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		return pkgerrors.New(pkgerrors.CodeVersionConflict, "order modified concurrently")
	}
	copied := *order
	copied.Version++
	r.orders[order.ID] = &copied
	return nil
}

func (r *stubOrderRepo) FindExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

type stubInventory struct {
	listing    *models.Listing
	reserved   int
	released   int
	committed  int
	reserveErr error
}

func (s *stubInventory) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if s.listing == nil || s.listing.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	copied := *s.listing
	return &copied, nil
}

func (s *stubInventory) Reserve(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error {
	if s.reserveErr != nil {
		return s.reserveErr
	}
	s.reserved += qty
	return nil
}

func (s *stubInventory) Release(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error {
	s.released += qty
	return nil
}

func (s *stubInventory) CommitSale(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, qty int) error {
	s.committed += qty
	return nil
}

type stubWallets struct {
	credits  []wallets.MoveInput
	debits   []wallets.MoveInput
	debitErr error
}

func (s *stubWallets) Credit(ctx context.Context, tx *gorm.DB, input wallets.MoveInput) error {
	s.credits = append(s.credits, input)
	return nil
}

func (s *stubWallets) Debit(ctx context.Context, tx *gorm.DB, input wallets.MoveInput) error {
	if s.debitErr != nil {
		return s.debitErr
	}
	s.debits = append(s.debits, input)
	return nil
}

type stubPayments struct {
	payment        *models.Payment
	releaseNet     int64
	releaseHit     bool
	releaseErr     error
	refunds        []int64
	refundErr      error
	captured       bool
	initiated      bool
	pendingCancels int
}

func (s *stubPayments) EnsureForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, method enums.PaymentMethod) (*models.Payment, error) {
	if s.payment == nil {
		s.payment = &models.Payment{
			ID:          uuid.New(),
			OrderID:     order.ID,
			PayerID:     order.BuyerID,
			PayeeID:     order.FarmerID,
			Method:      method,
			AmountPaise: order.AmountDuePaise,
			Status:      enums.PaymentStatusCreated,
		}
	}
	return s.payment, nil
}

func (s *stubPayments) InitiateGateway(ctx context.Context, order *models.Order, payment *models.Payment) (*models.Payment, error) {
	s.initiated = true
	return payment, nil
}

func (s *stubPayments) CaptureInternal(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reference string) (*models.Payment, error) {
	s.captured = true
	s.payment.Status = enums.PaymentStatusCaptured
	return s.payment, nil
}

func (s *stubPayments) CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	s.pendingCancels++
	if s.payment != nil && s.payment.Status != enums.PaymentStatusCaptured {
		s.payment.Status = enums.PaymentStatusCancelled
	}
	return nil
}

func (s *stubPayments) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, bool, error) {
	if s.releaseErr != nil {
		return 0, false, s.releaseErr
	}
	return s.releaseNet, s.releaseHit, nil
}

func (s *stubPayments) RefundByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amountPaise int64, reason string) error {
	if s.refundErr != nil {
		return s.refundErr
	}
	s.refunds = append(s.refunds, amountPaise)
	return nil
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubOutbox) lastType(t *testing.T) enums.OutboxEventType {
	t.Helper()
	if len(s.events) == 0 {
		t.Fatal("expected an outbox event")
	}
	return s.events[len(s.events)-1].EventType
}

type orderFixture struct {
	svc       Service
	repo      *stubOrderRepo
	inventory *stubInventory
	wallets   *stubWallets
	payments  *stubPayments
	outbox    *stubOutbox
}

func newOrderFixture(t *testing.T, orders ...*models.Order) *orderFixture {
	t.Helper()
	f := &orderFixture{
		repo:      newStubOrderRepo(orders...),
		inventory: &stubInventory{},
		wallets:   &stubWallets{},
		payments:  &stubPayments{},
		outbox:    &stubOutbox{},
	}
	svc, err := NewService(
		f.repo,
		fakeTxRunner{},
		f.inventory,
		f.wallets,
		f.payments,
		f.outbox,
		testPricingConfig(),
		logger.New(logger.Options{ServiceName: "test"}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func buyerActor() Actor { return Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer} }
func farmerActor(id uuid.UUID) Actor {
	return Actor{UserID: id, Role: enums.ActorRoleFarmer}
}

func openDispute(raisedBy uuid.UUID) *types.Dispute {
	return &types.Dispute{
		RaisedBy:   raisedBy,
		RaisedRole: enums.ActorRoleBuyer,
		Reason:     "crops arrived damaged",
		Status:     enums.DisputeStatusOpen,
		RaisedAt:   time.Now(),
	}
}

func baseListing(farmerID uuid.UUID) *models.Listing {
	return &models.Listing{
		ID:                uuid.New(),
		FarmerID:          farmerID,
		CropName:          "Tomato",
		Unit:              enums.CropUnitKilogram,
		PricePerUnitPaise: 5000,
		Quantity:          100,
		Status:            enums.ListingStatusAvailable,
	}
}

func baseOrder(buyerID, farmerID uuid.UUID, status enums.OrderStatus) *models.Order {
	return &models.Order{
		ID:               uuid.New(),
		OrderNumber:      "AGM-20260314-TEST42",
		BuyerID:          buyerID,
		FarmerID:         farmerID,
		ListingID:        uuid.New(),
		Quantity:         10,
		UnitPricePaise:   5000,
		Currency:         enums.CurrencyINR,
		DeliveryType:     enums.DeliveryTypeDelivery,
		SubtotalPaise:    50000,
		GSTPaise:         2500,
		ShippingPaise:    5000,
		PlatformFeePaise: 1000,
		TotalPaise:       58500,
		AmountDuePaise:   58500,
		Status:           status,
		PaymentStatus:    enums.OrderPaymentStatusPending,
	}
}

func TestPlaceOrderReservesStockAndPrices(t *testing.T) {
	farmerID := uuid.New()
	listing := baseListing(farmerID)
	f := newOrderFixture(t)
	f.inventory.listing = listing
	buyer := buyerActor()

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyer,
		ListingID: listing.ID,
		Quantity:  10,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if f.inventory.reserved != 10 {
		t.Fatalf("expected 10 units reserved, got %d", f.inventory.reserved)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("new orders start pending, got %s", order.Status)
	}
	if order.TotalPaise != 58500 {
		t.Fatalf("total: got %d want 58500", order.TotalPaise)
	}
	if order.AmountDuePaise != order.TotalPaise {
		t.Fatalf("full total must be due, got %d", order.AmountDuePaise)
	}
	if order.FarmerID != farmerID {
		t.Fatal("farmer id must come from the listing")
	}
	if got := f.outbox.lastType(t); got != enums.EventOrderCreated {
		t.Fatalf("expected order_created event, got %s", got)
	}
}

func TestPlaceOrderSnapshotsListingDiscount(t *testing.T) {
	farmerID := uuid.New()
	listing := baseListing(farmerID)
	listing.DiscountPercent = "10"
	f := newOrderFixture(t)
	f.inventory.listing = listing

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyerActor(),
		ListingID: listing.ID,
		Quantity:  10,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if order.DiscountPercent != "10" {
		t.Fatalf("discount must come from the listing, got %q", order.DiscountPercent)
	}
	if order.DiscountPaise != 5000 {
		t.Fatalf("discount: got %d want 5000", order.DiscountPaise)
	}
	// 45000 discounted + 2250 GST + 5000 shipping + 1000 min platform fee
	if order.TotalPaise != 53250 {
		t.Fatalf("total: got %d want 53250", order.TotalPaise)
	}
}

func TestPlaceOrderHasNoBuyerPricingChannel(t *testing.T) {
	listing := baseListing(uuid.New())
	f := newOrderFixture(t)
	f.inventory.listing = listing

	// The buyer controls listing, quantity, and delivery type only. An
	// undiscounted listing must always price at full value.
	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:        buyerActor(),
		ListingID:    listing.ID,
		Quantity:     10,
		DeliveryType: enums.DeliveryTypeDelivery,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.DiscountPaise != 0 || order.DiscountPercent != "0" {
		t.Fatalf("no discount may apply without a listing promotion, got %d (%s)",
			order.DiscountPaise, order.DiscountPercent)
	}
	if order.TotalPaise != 58500 {
		t.Fatalf("total: got %d want 58500", order.TotalPaise)
	}
}

func TestPlaceOrderRejectsCorruptListingDiscount(t *testing.T) {
	listing := baseListing(uuid.New())
	listing.DiscountPercent = "ten"
	f := newOrderFixture(t)
	f.inventory.listing = listing

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyerActor(),
		ListingID: listing.ID,
		Quantity:  1,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if f.inventory.reserved != 0 {
		t.Fatal("nothing may be reserved when pricing fails")
	}
}

func TestPlaceOrderRetriesNumberCollisionInFreshTransaction(t *testing.T) {
	listing := baseListing(uuid.New())
	f := newOrderFixture(t)
	f.inventory.listing = listing
	f.repo.createErrs = []error{
		errors.New(`duplicate key value violates unique constraint "orders_order_number_key"`),
	}

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyerActor(),
		ListingID: listing.ID,
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(f.repo.createNums) != 2 {
		t.Fatalf("expected a second insert attempt, got %d", len(f.repo.createNums))
	}
	if f.repo.createNums[0] == f.repo.createNums[1] {
		t.Fatal("collision retry must regenerate the order number")
	}
	if order.OrderNumber != f.repo.createNums[1] {
		t.Fatalf("order must carry the regenerated number, got %s", order.OrderNumber)
	}
}

func TestPlaceOrderSurfacesNonCollisionCreateError(t *testing.T) {
	listing := baseListing(uuid.New())
	f := newOrderFixture(t)
	f.inventory.listing = listing
	f.repo.createErrs = []error{errors.New("connection reset by peer")}

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyerActor(),
		ListingID: listing.ID,
		Quantity:  2,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(f.repo.createNums) != 1 {
		t.Fatalf("only collisions may be retried, got %d attempts", len(f.repo.createNums))
	}
}

func TestPlaceOrderRejectsOwnListing(t *testing.T) {
	farmerID := uuid.New()
	listing := baseListing(farmerID)
	f := newOrderFixture(t)
	f.inventory.listing = listing

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     Actor{UserID: farmerID, Role: enums.ActorRoleFarmer},
		ListingID: listing.ID,
		Quantity:  1,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if f.inventory.reserved != 0 {
		t.Fatal("nothing may be reserved on a rejected order")
	}
}

func TestPlaceOrderHiddenListingNotFound(t *testing.T) {
	listing := baseListing(uuid.New())
	listing.Status = enums.ListingStatusHidden
	f := newOrderFixture(t)
	f.inventory.listing = listing

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyerActor(),
		ListingID: listing.ID,
		Quantity:  1,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPlaceOrderInsufficientStockLeavesNoOrder(t *testing.T) {
	listing := baseListing(uuid.New())
	f := newOrderFixture(t)
	f.inventory.listing = listing
	f.inventory.reserveErr = pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock available")

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		Buyer:     buyerActor(),
		ListingID: listing.ID,
		Quantity:  500,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if len(f.repo.created) != 0 {
		t.Fatal("no order row may be created when the reservation fails")
	}
}

func TestUpdateStatusRejectsBackwardsMove(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusShipped)
	f := newOrderFixture(t, order)

	err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Actor:   farmerActor(farmerID),
		OrderID: order.ID,
		Target:  enums.OrderStatusConfirmed,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestUpdateStatusRetriesVersionConflict(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusConfirmed)
	f := newOrderFixture(t, order)
	f.repo.conflictsLeft = 1

	err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Actor:   farmerActor(farmerID),
		OrderID: order.ID,
		Target:  enums.OrderStatusProcessing,
	})
	if err != nil {
		t.Fatalf("expected retry to absorb the conflict: %v", err)
	}
	if f.repo.casCalls != 2 {
		t.Fatalf("expected 2 CAS attempts, got %d", f.repo.casCalls)
	}
}

func TestUpdateStatusForbidsWrongFarmer(t *testing.T) {
	order := baseOrder(uuid.New(), uuid.New(), enums.OrderStatusConfirmed)
	f := newOrderFixture(t, order)

	err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Actor:   farmerActor(uuid.New()),
		OrderID: order.ID,
		Target:  enums.OrderStatusProcessing,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDeliverSettlesFundsOnce(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusOutForDelivery)
	f := newOrderFixture(t, order)
	f.payments.releaseNet = 56000
	f.payments.releaseHit = true

	err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Actor:   farmerActor(farmerID),
		OrderID: order.ID,
		Target:  enums.OrderStatusDelivered,
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if f.inventory.committed != order.Quantity {
		t.Fatalf("reserved stock must convert to sold, got %d", f.inventory.committed)
	}
	if len(f.wallets.credits) != 1 {
		t.Fatalf("expected one settlement credit, got %d", len(f.wallets.credits))
	}
	credit := f.wallets.credits[0]
	if credit.UserID != farmerID || credit.AmountPaise != 56000 {
		t.Fatalf("settlement credit mismatch: %+v", credit)
	}
	updated := f.repo.orders[order.ID]
	if updated.Status != enums.OrderStatusDelivered || updated.PaymentStatus != enums.OrderPaymentStatusPaid {
		t.Fatalf("order not settled: status=%s payment=%s", updated.Status, updated.PaymentStatus)
	}
	if updated.AmountDuePaise != 0 {
		t.Fatalf("nothing may remain due after delivery, got %d", updated.AmountDuePaise)
	}
	if got := f.outbox.lastType(t); got != enums.EventOrderDelivered {
		t.Fatalf("expected order_delivered event, got %s", got)
	}
}

func TestDeliverBlockedByOpenDispute(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusOutForDelivery)
	order.Dispute = openDispute(buyerID)
	f := newOrderFixture(t, order)

	err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		Actor:   farmerActor(farmerID),
		OrderID: order.ID,
		Target:  enums.OrderStatusDelivered,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict while disputed, got %v", err)
	}
	if f.inventory.committed != 0 || len(f.wallets.credits) != 0 {
		t.Fatal("no settlement effects may run while a dispute is open")
	}
}

func TestCancelReleasesStockAndRefundsPaidFunds(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusConfirmed)
	order.PaymentStatus = enums.OrderPaymentStatusPaid
	order.AmountPaidPaise = 58500
	f := newOrderFixture(t, order)

	err := f.svc.Cancel(context.Background(), CancelInput{
		Actor:   Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		OrderID: order.ID,
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if f.inventory.released != order.Quantity {
		t.Fatalf("reservation must be released, got %d", f.inventory.released)
	}
	if len(f.payments.refunds) != 1 || f.payments.refunds[0] != 58500 {
		t.Fatalf("expected full refund of 58500, got %v", f.payments.refunds)
	}
	if len(f.wallets.credits) != 1 || f.wallets.credits[0].UserID != buyerID {
		t.Fatalf("refund must credit the buyer, got %+v", f.wallets.credits)
	}
	updated := f.repo.orders[order.ID]
	if updated.Status != enums.OrderStatusCancelled || updated.PaymentStatus != enums.OrderPaymentStatusRefunded {
		t.Fatalf("cancel state mismatch: status=%s payment=%s", updated.Status, updated.PaymentStatus)
	}
}

func TestCancelUnpaidOrderSkipsRefund(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusPending)
	f := newOrderFixture(t, order)

	err := f.svc.Cancel(context.Background(), CancelInput{
		Actor:   Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		OrderID: order.ID,
		Reason:  "found a better price",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.payments.refunds) != 0 || len(f.wallets.credits) != 0 {
		t.Fatal("unpaid orders must not trigger refunds")
	}
	if f.repo.orders[order.ID].PaymentStatus != enums.OrderPaymentStatusCancelled {
		t.Fatalf("payment status should be cancelled, got %s", f.repo.orders[order.ID].PaymentStatus)
	}
}

func TestCancelVoidsUncapturedGatewayPayment(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusPending)
	f := newOrderFixture(t, order)
	f.payments.payment = &models.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		PayerID:     buyerID,
		PayeeID:     farmerID,
		Method:      enums.PaymentMethodGateway,
		AmountPaise: order.TotalPaise,
		Status:      enums.PaymentStatusPending,
	}

	err := f.svc.Cancel(context.Background(), CancelInput{
		Actor:   Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		OrderID: order.ID,
		Reason:  "ordered by mistake",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if f.payments.pendingCancels != 1 {
		t.Fatalf("the open payment must be voided, got %d cancel calls", f.payments.pendingCancels)
	}
	if f.payments.payment.Status != enums.PaymentStatusCancelled {
		t.Fatalf("payment may not stay %s after cancel", f.payments.payment.Status)
	}
	if len(f.payments.refunds) != 0 {
		t.Fatal("uncaptured payments have nothing to refund")
	}
}

func TestCancelRejectedOnceShipped(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusShipped)
	f := newOrderFixture(t, order)

	err := f.svc.Cancel(context.Background(), CancelInput{
		Actor:   Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		OrderID: order.ID,
		Reason:  "too late",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if f.inventory.released != 0 {
		t.Fatal("no stock may move on a rejected cancel")
	}
}

func TestRaiseDisputeOnlyOnce(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusDelivered)
	order.Dispute = openDispute(buyerID)
	f := newOrderFixture(t, order)

	err := f.svc.RaiseDispute(context.Background(), DisputeInput{
		Actor:   Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		OrderID: order.ID,
		Reason:  "crops arrived spoiled",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeAlreadyDisputed) {
		t.Fatalf("expected already disputed, got %v", err)
	}
}

func TestResolveDisputeRefundsBuyer(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusDelivered)
	order.AmountPaidPaise = 58500
	order.Dispute = openDispute(buyerID)
	f := newOrderFixture(t, order)

	err := f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{
		Actor:       Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
		OrderID:     order.ID,
		Resolution:  "partial refund for damaged goods",
		RefundPaise: 20000,
	})
	if err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	if len(f.payments.refunds) != 1 || f.payments.refunds[0] != 20000 {
		t.Fatalf("expected refund of 20000, got %v", f.payments.refunds)
	}
	if len(f.wallets.credits) != 1 || f.wallets.credits[0].UserID != buyerID {
		t.Fatalf("refund must credit the buyer, got %+v", f.wallets.credits)
	}
	updated := f.repo.orders[order.ID]
	if updated.Dispute.Status != enums.DisputeStatusResolved {
		t.Fatalf("dispute must be resolved, got %s", updated.Dispute.Status)
	}
}

func TestResolveDisputeRequiresAdmin(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusDelivered)
	order.Dispute = openDispute(buyerID)
	f := newOrderFixture(t, order)

	err := f.svc.ResolveDispute(context.Background(), ResolveDisputeInput{
		Actor:      Actor{UserID: farmerID, Role: enums.ActorRoleFarmer},
		OrderID:    order.ID,
		Resolution: "no refund",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRequestReturnNeedsDeliveredOrder(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusShipped)
	f := newOrderFixture(t, order)

	err := f.svc.RequestReturn(context.Background(), ReturnInput{
		Actor:   Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		OrderID: order.ID,
		Reason:  "wrong grade",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestInitiateWalletPaymentSettlesImmediately(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusPending)
	f := newOrderFixture(t, order)

	payment, err := f.svc.InitiatePayment(
		context.Background(),
		Actor{UserID: buyerID, Role: enums.ActorRoleBuyer},
		order.ID,
		enums.PaymentMethodWallet,
	)
	if err != nil {
		t.Fatalf("initiate wallet payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusCaptured {
		t.Fatalf("wallet payments capture inline, got %s", payment.Status)
	}
	if len(f.wallets.debits) != 1 || f.wallets.debits[0].UserID != buyerID {
		t.Fatalf("buyer wallet must be debited, got %+v", f.wallets.debits)
	}
	updated := f.repo.orders[order.ID]
	if updated.PaymentStatus != enums.OrderPaymentStatusPaid || updated.Status != enums.OrderStatusConfirmed {
		t.Fatalf("order not marked paid: status=%s payment=%s", updated.Status, updated.PaymentStatus)
	}
}

func TestInitiatePaymentForbidsNonBuyer(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusPending)
	f := newOrderFixture(t, order)

	_, err := f.svc.InitiatePayment(
		context.Background(),
		farmerActor(farmerID),
		order.ID,
		enums.PaymentMethodGateway,
	)
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestExpirePendingCancelsAndReleases(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusPending)
	f := newOrderFixture(t, order)

	if err := f.svc.ExpirePending(context.Background(), order.ID); err != nil {
		t.Fatalf("expire pending: %v", err)
	}
	if f.inventory.released != order.Quantity {
		t.Fatalf("expired orders must release stock, got %d", f.inventory.released)
	}
	updated := f.repo.orders[order.ID]
	if updated.Status != enums.OrderStatusCancelled || updated.PaymentStatus != enums.OrderPaymentStatusCancelled {
		t.Fatalf("expiry state mismatch: status=%s payment=%s", updated.Status, updated.PaymentStatus)
	}
	if f.payments.pendingCancels != 1 {
		t.Fatalf("expiry must void any open payment, got %d cancel calls", f.payments.pendingCancels)
	}
	if got := f.outbox.lastType(t); got != enums.EventOrderExpired {
		t.Fatalf("expected order_expired event, got %s", got)
	}
}

func TestExpirePendingSkipsProgressedOrder(t *testing.T) {
	buyerID, farmerID := uuid.New(), uuid.New()
	order := baseOrder(buyerID, farmerID, enums.OrderStatusConfirmed)
	order.PaymentStatus = enums.OrderPaymentStatusPaid
	f := newOrderFixture(t, order)

	if err := f.svc.ExpirePending(context.Background(), order.ID); err != nil {
		t.Fatalf("expire pending: %v", err)
	}
	if f.inventory.released != 0 {
		t.Fatal("progressed orders must be left untouched")
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("no event may be emitted for a skipped order")
	}
}

func TestGetDeniesStranger(t *testing.T) {
	order := baseOrder(uuid.New(), uuid.New(), enums.OrderStatusPending)
	f := newOrderFixture(t, order)

	_, err := f.svc.Get(context.Background(), buyerActor(), order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
