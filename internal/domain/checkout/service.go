package checkout

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/pricing"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
	"github.com/xenking/marketplace-checkout/internal/domain/tx"
	"github.com/xenking/marketplace-checkout/internal/event"
	"github.com/xenking/marketplace-checkout/internal/saga"
)

// Deps are the collaborators of a Service. CartClearer is optional.
type Deps struct {
	Carts       cart.Provider
	CartClearer cart.Clearer
	Products    product.Repository
	Stock       inventory.Reserver
	Coupons     coupon.Redeemer
	Orders      order.Repository
	Transactor  tx.Transactor
	Tax         pricing.TaxPolicy
	TaxMode     pricing.TaxMode
	Shipping    pricing.ShippingQuoter
	Events      event.Publisher
	Idempotency IdempotencyStore
	Meter       metric.MeterProvider
	Tracer      trace.TracerProvider
}

// Service runs checkouts.
type Service struct {
	carts    cart.Provider
	clearer  cart.Clearer
	products product.Repository
	stock    inventory.Reserver
	coupons  coupon.Redeemer
	orders   order.Repository
	tx       tx.Transactor
	tax      pricing.TaxPolicy
	taxMode  pricing.TaxMode
	shipping pricing.ShippingQuoter
	events   event.Publisher
	idem     IdempotencyStore
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string

	outcomes metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(d Deps) (*Service, error) {
	outcomes, err := d.Meter.Meter("checkout").Int64Counter("checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcome counter")
	}

	return &Service{
		carts:    d.Carts,
		clearer:  d.CartClearer,
		products: d.Products,
		stock:    d.Stock,
		coupons:  d.Coupons,
		orders:   d.Orders,
		tx:       d.Transactor,
		tax:      d.Tax,
		taxMode:  d.TaxMode,
		shipping: d.Shipping,
		events:   d.Events,
		idem:     d.Idempotency,
		tracer:   d.Tracer.Tracer("checkout"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		outcomes: outcomes,
	}, nil
}

// draft is an order being assembled from a cart snapshot.
type draft struct {
	order *order.Order
	lines []inventory.Line
	scope []coupon.Item
}

// Checkout reserves stock, redeems the discount and persists the order as one
// unit of work. On any failure every completed step is undone and the error
// of the failing step is returned.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer span.End()

	res, err := s.once(ctx, req)
	if err != nil {
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	span.SetAttributes(attribute.String("order.id", res.Order.ID))
	return res, nil
}

// once wraps checkout with the idempotency key protocol when a key is given.
// Keys are scoped to the user, so the same key sent by two users yields two
// independent checkouts.
func (s *Service) once(ctx context.Context, req Request) (*Result, error) {
	if req.IdempotencyKey == "" || s.idem == nil {
		return s.checkout(ctx, req)
	}
	key := req.UserID + ":" + req.IdempotencyKey
	lg := zctx.From(ctx).With(zap.String("idempotency_key", req.IdempotencyKey))

	orderID, err := s.idem.Begin(ctx, key)
	if err != nil {
		if errors.Is(err, ErrInProgress) {
			return nil, err
		}
		return nil, errors.Wrap(err, "claim idempotency key")
	}
	if orderID != "" {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, errors.Wrap(err, "load replayed order")
		}
		lg.Info("Checkout replayed", zap.String("order_id", orderID))
		return &Result{Order: o, Replayed: true}, nil
	}

	res, err := s.checkout(ctx, req)
	if err != nil {
		if aerr := s.idem.Abort(context.WithoutCancel(ctx), key); aerr != nil {
			lg.Warn("Failed to release idempotency key", zap.Error(aerr))
		}
		return nil, err
	}
	if err := s.idem.Complete(context.WithoutCancel(ctx), key, res.Order.ID); err != nil {
		lg.Warn("Failed to complete idempotency key", zap.Error(err))
	}
	return res, nil
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	lg := zctx.From(ctx)

	d, err := s.snapshot(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	o := d.order
	code := coupon.NormalizeCode(req.CouponCode)

	var (
		quote       *coupon.Quote
		discountErr error
	)
	steps := []saga.Step{
		{
			Name:       "reserve inventory",
			Execute:    func(ctx context.Context) error { return s.stock.ReserveAll(ctx, d.lines) },
			Compensate: func(ctx context.Context) error { return s.stock.ReleaseAll(ctx, d.lines) },
		},
		{
			Name: "price order",
			Execute: func(ctx context.Context) error {
				shipping, err := s.quoteShipping(ctx, o, req.Jurisdiction)
				if err != nil {
					return err
				}
				if code != "" {
					quote, err = s.coupons.Validate(ctx, coupon.Request{
						Code:         code,
						UserID:       req.UserID,
						OrderAmount:  o.Subtotal,
						ShippingCost: shipping,
						Items:        d.scope,
					})
					if err != nil {
						if !req.AllowDiscountFallback || !errors.Is(err, coupon.ErrDiscountNotApplicable) {
							return err
						}
						discountErr = err
						quote = nil
					}
				}
				s.price(o, shipping, quote, req.Jurisdiction)
				return nil
			},
		},
		{
			Name: "apply discount",
			Execute: func(ctx context.Context) error {
				if quote == nil {
					return nil
				}
				r, err := s.coupons.Apply(ctx, coupon.ApplyRequest{
					Request: coupon.Request{
						Code:         code,
						UserID:       req.UserID,
						OrderAmount:  o.Subtotal,
						ShippingCost: o.ShippingCost,
						Items:        d.scope,
					},
					OrderID: o.ID,
				})
				if err != nil {
					return err
				}
				o.CouponID = r.CouponID
				o.CouponCode = quote.Rule.Code
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if o.CouponID == "" {
					return nil
				}
				_, err := s.coupons.Reverse(ctx, o.CouponID, o.ID)
				return err
			},
		},
		{
			Name:    "persist order",
			Execute: func(ctx context.Context) error { return s.orders.Create(ctx, o) },
		},
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return saga.New("checkout", steps...).Run(ctx)
	})
	if err != nil {
		if code != "" && errors.Is(err, coupon.ErrDiscountNotApplicable) {
			s.recordFailure(ctx, req.UserID, code, o, err)
		}
		s.events.Publish(ctx, event.Event{
			Type:   event.CheckoutFailed,
			UserID: req.UserID,
			Attrs:  map[string]string{"reason": outcome(err)},
		})
		lg.Info("Checkout failed",
			zap.String("user_id", req.UserID),
			zap.String("coupon_code", code),
			zap.Error(err),
		)
		return nil, err
	}

	if discountErr != nil {
		s.recordFailure(ctx, req.UserID, code, o, discountErr)
	}
	if s.clearer != nil {
		if err := s.clearer.Clear(ctx, req.UserID); err != nil {
			lg.Warn("Failed to clear cart", zap.String("user_id", req.UserID), zap.Error(err))
		}
	}

	lg.Info("Checkout completed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("subtotal", o.Subtotal.StringFixed(2)),
		zap.String("discount", o.DiscountAmount.StringFixed(2)),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)
	s.publishCompleted(ctx, o, discountErr)

	return &Result{Order: o, DiscountError: discountErr}, nil
}

// Quote prices the user's cart without reserving stock or redeeming the
// discount. An inapplicable code is reported in Preview.DiscountError.
func (s *Service) Quote(ctx context.Context, req Request) (*Preview, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.quote")
	defer span.End()

	d, err := s.snapshot(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	o := d.order

	shipping, err := s.quoteShipping(ctx, o, req.Jurisdiction)
	if err != nil {
		return nil, err
	}

	p := &Preview{}
	if code := coupon.NormalizeCode(req.CouponCode); code != "" {
		quote, err := s.coupons.Validate(ctx, coupon.Request{
			Code:         code,
			UserID:       req.UserID,
			OrderAmount:  o.Subtotal,
			ShippingCost: shipping,
			Items:        d.scope,
		})
		switch {
		case err == nil:
			p.Discount = quote
		case errors.Is(err, coupon.ErrDiscountNotApplicable):
			p.DiscountError = err
		default:
			return nil, err
		}
	}

	p.Breakdown = s.price(o, shipping, p.Discount, req.Jurisdiction)
	p.Items = o.Items
	return p, nil
}

// snapshot reads the cart and catalog and builds an unpriced PENDING order.
func (s *Service) snapshot(ctx context.Context, userID string) (*draft, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	lines, err := s.carts.GetLineItems(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		if _, ok := seen[l.ProductID]; !ok {
			seen[l.ProductID] = struct{}{}
			ids = append(ids, l.ProductID)
		}
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	catalog := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		catalog[p.ID] = p
	}

	now := s.now()
	o := &order.Order{
		ID:            s.newID(),
		UserID:        userID,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Items:         make([]order.LineItem, 0, len(lines)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	d := &draft{order: o}

	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok {
			return nil, &ProductUnavailableError{ProductID: l.ProductID}
		}
		if !p.Purchasable() {
			return nil, &ProductUnavailableError{ProductID: p.ID, Status: p.Status}
		}
		if o.SellerID == "" {
			o.SellerID = p.SellerID
		} else if o.SellerID != p.SellerID {
			return nil, ErrMixedSellers
		}

		o.Items = append(o.Items, order.LineItem{
			ID:         s.newID(),
			ProductID:  p.ID,
			VariantID:  l.VariantID,
			Name:       p.Name,
			SKU:        p.SKU,
			ImageURL:   p.ImageURL,
			CategoryID: p.CategoryID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			TotalPrice: pricing.LineTotal(l.UnitPrice, l.Quantity),
		})
		d.lines = append(d.lines, inventory.Line{
			Key:      inventory.Key{ProductID: p.ID, VariantID: l.VariantID},
			Quantity: l.Quantity,
		})
		d.scope = append(d.scope, coupon.Item{ProductID: p.ID, CategoryID: p.CategoryID})
	}

	o.Subtotal = decimal.Zero
	for _, it := range o.Items {
		o.Subtotal = o.Subtotal.Add(it.TotalPrice)
	}
	return d, nil
}

func (s *Service) quoteShipping(ctx context.Context, o *order.Order, jurisdiction string) (decimal.Decimal, error) {
	items := 0
	for _, it := range o.Items {
		items += it.Quantity
	}
	cost, err := s.shipping.Quote(ctx, pricing.QuoteRequest{
		Subtotal:     o.Subtotal,
		Items:        items,
		Jurisdiction: jurisdiction,
	})
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "quote shipping")
	}
	return cost, nil
}

// price fills the order's monetary fields from the calculator.
func (s *Service) price(o *order.Order, shipping decimal.Decimal, quote *coupon.Quote, jurisdiction string) pricing.Breakdown {
	in := pricing.Input{
		Lines:        make([]pricing.Line, len(o.Items)),
		ShippingCost: shipping,
		Discount:     decimal.Zero,
		Tax:          s.tax,
		Jurisdiction: jurisdiction,
		Mode:         s.taxMode,
	}
	for i, it := range o.Items {
		in.Lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	if quote != nil {
		in.Discount = quote.Amount
		in.DiscountOnShipping = quote.OnShipping
	}

	b := pricing.Price(in)
	o.Subtotal = b.Subtotal
	o.TaxAmount = b.Tax
	o.ShippingCost = b.Shipping
	o.DiscountAmount = b.Discount
	o.TotalAmount = b.Total
	for i := range o.Items {
		o.Items[i].TotalPrice = b.Lines[i].Total
		o.Items[i].Discount = b.Lines[i].Discount
		o.Items[i].Tax = b.Lines[i].Tax
	}
	return b
}

// recordFailure writes the failed redemption attempt after the unit of work
// has rolled back, so the audit row survives.
func (s *Service) recordFailure(ctx context.Context, userID, code string, o *order.Order, cause error) {
	var stepErr *saga.StepError
	if errors.As(cause, &stepErr) {
		cause = stepErr.Err
	}
	err := s.coupons.RecordFailure(context.WithoutCancel(ctx), coupon.ApplyRequest{
		Request: coupon.Request{
			Code:        code,
			UserID:      userID,
			OrderAmount: o.Subtotal,
		},
		OrderID: o.ID,
	}, cause)
	if err != nil {
		zctx.From(ctx).Warn("Failed to record discount attempt",
			zap.String("coupon_code", code),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (s *Service) publishCompleted(ctx context.Context, o *order.Order, discountErr error) {
	s.events.Publish(ctx, event.Event{
		Type:    event.OrderCreated,
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  string(o.Status),
		Attrs:   map[string]string{"total": o.TotalAmount.StringFixed(2), "seller_id": o.SellerID},
	})

	attrs := map[string]string{
		"subtotal": o.Subtotal.StringFixed(2),
		"discount": o.DiscountAmount.StringFixed(2),
		"items":    strconv.Itoa(len(o.Items)),
	}
	if discountErr != nil {
		attrs["discount_dropped"] = discountErr.Error()
	}
	s.events.Publish(ctx, event.Event{
		Type:    event.CheckoutCompleted,
		OrderID: o.ID,
		UserID:  o.UserID,
		Attrs:   attrs,
	})

	if o.CouponCode != "" {
		s.events.Publish(ctx, event.Event{
			Type:    event.DiscountRedeemed,
			OrderID: o.ID,
			UserID:  o.UserID,
			Attrs:   map[string]string{"code": o.CouponCode, "amount": o.DiscountAmount.StringFixed(2)},
		})
	}
}

// outcome classifies a checkout failure for metrics and analytics.
func outcome(err error) string {
	var (
		stockErr    *inventory.InsufficientStockError
		unavailable *ProductUnavailableError
	)
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.Is(err, coupon.ErrDiscountNotApplicable):
		return "discount_rejected"
	case errors.As(err, &unavailable), errors.Is(err, ErrEmptyCart), errors.Is(err, ErrMixedSellers):
		return "invalid_cart"
	case errors.Is(err, ErrInProgress):
		return "in_progress"
	default:
		return "error"
	}
}
