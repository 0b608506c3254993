package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// Terminal reports whether no further status transition exists.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// PaymentStatus is tracked independently of Status.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// LineItem is an order line. Product fields are a snapshot taken at checkout.
type LineItem struct {
	ID         string
	ProductID  string
	VariantID  string
	Name       string
	SKU        string
	ImageURL   string
	CategoryID string
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
}

// Order is a customer order. It is created by checkout and then changed only
// through the Manager.
type Order struct {
	ID                 string
	UserID             string
	SellerID           string
	Items              []LineItem
	Subtotal           decimal.Decimal
	TaxAmount          decimal.Decimal
	ShippingCost       decimal.Decimal
	DiscountAmount     decimal.Decimal
	TotalAmount        decimal.Decimal
	RefundedAmount     decimal.Decimal
	Status             Status
	PaymentStatus      PaymentStatus
	CouponID           string
	CouponCode         string
	TrackingNumber     string
	CancellationReason string
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	cp.ShippedAt = clonePtr(o.ShippedAt)
	cp.DeliveredAt = clonePtr(o.DeliveredAt)
	cp.CancelledAt = clonePtr(o.CancelledAt)
	return &cp
}

// StockLines returns the inventory reserved for the order.
func (o *Order) StockLines() []inventory.Line {
	lines := make([]inventory.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = inventory.Line{
			Key:      inventory.Key{ProductID: it.ProductID, VariantID: it.VariantID},
			Quantity: it.Quantity,
		}
	}
	return lines
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores a new order with its line items at Version 1.
	Create(ctx context.Context, o *Order) error
	// Get returns the order with its line items, or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	// Update writes the order's mutable fields if the stored version still
	// equals o.Version, then increments o.Version. A stale version yields
	// *ConcurrencyConflictError.
	Update(ctx context.Context, o *Order) error
}
