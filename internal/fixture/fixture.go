// Package fixture decodes the demo catalog shipped in db/seed into domain
// values, ready to be written by seed-db or loaded into the memory backend.
package fixture

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/db"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// Set is a decoded catalog.
type Set struct {
	Products []product.Product
	Units    []inventory.Unit
	Carts    map[string][]cart.Line
	Coupons  []coupon.Rule
}

// Default decodes the embedded demo catalog.
func Default() (*Set, error) {
	return Decode(db.Seed)
}

// CouponID derives a stable rule id from a code so repeated seeding updates
// the same row.
func CouponID(code string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("coupon:"+coupon.NormalizeCode(code))).String()
}

// Decode parses a catalog document. Cart lines take the unit price of the
// referenced product.
func Decode(data []byte) (*Set, error) {
	s := &Set{Carts: map[string][]cart.Line{}}
	type cartItem struct {
		userID string
		line   cart.Line
	}
	var items []cartItem

	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				return s.decodeProduct(d)
			})
		case "carts":
			return d.Arr(func(d *jx.Decoder) error {
				var userID string
				var lines []cart.Line
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "user_id":
						v, err := d.Str()
						userID = v
						return err
					case "items":
						return d.Arr(func(d *jx.Decoder) error {
							l, err := decodeCartLine(d)
							lines = append(lines, l)
							return err
						})
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				for _, l := range lines {
					items = append(items, cartItem{userID: userID, line: l})
				}
				return nil
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				rule, err := decodeCoupon(d)
				if err != nil {
					return err
				}
				s.Coupons = append(s.Coupons, rule)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}

	prices := make(map[string]decimal.Decimal, len(s.Products))
	for _, p := range s.Products {
		prices[p.ID] = p.Price
	}
	for _, it := range items {
		price, ok := prices[it.line.ProductID]
		if !ok {
			return nil, errors.Errorf("cart of %s references unknown product %s", it.userID, it.line.ProductID)
		}
		it.line.UnitPrice = price
		s.Carts[it.userID] = append(s.Carts[it.userID], it.line)
	}
	return s, nil
}

func (s *Set) decodeProduct(d *jx.Decoder) error {
	var (
		p        product.Product
		stock    int
		low      int
		variants []inventory.Unit
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "seller_id":
			p.SellerID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "sku":
			p.SKU, err = d.Str()
		case "image_url":
			p.ImageURL, err = d.Str()
		case "category_id":
			p.CategoryID, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "status":
			var v string
			v, err = d.Str()
			p.Status = product.Status(v)
		case "stock":
			stock, err = d.Int()
		case "low_stock_threshold":
			low, err = d.Int()
		case "variants":
			err = d.Arr(func(d *jx.Decoder) error {
				u, err := decodeVariant(d)
				variants = append(variants, u)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	if p.ID == "" || p.SellerID == "" {
		return errors.New("product id and seller_id are required")
	}
	if p.Status == "" {
		p.Status = product.StatusActive
	}

	s.Products = append(s.Products, p)
	if len(variants) == 0 {
		variants = []inventory.Unit{{OnHand: stock, LowStockThreshold: low}}
	}
	for _, u := range variants {
		u.Key.ProductID = p.ID
		u.Status = inventory.StatusActive
		if u.OnHand == 0 {
			u.Status = inventory.StatusOutOfStock
		}
		s.Units = append(s.Units, u)
	}
	return nil
}

func decodeVariant(d *jx.Decoder) (inventory.Unit, error) {
	var u inventory.Unit
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.Key.VariantID, err = d.Str()
		case "stock":
			u.OnHand, err = d.Int()
		case "low_stock_threshold":
			u.LowStockThreshold, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return u, err
}

func decodeCartLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			l.ProductID, err = d.Str()
		case "variant_id":
			l.VariantID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

func decodeCoupon(d *jx.Decoder) (coupon.Rule, error) {
	rule := coupon.Rule{Status: coupon.StatusActive}
	strs := func(dst *[]string) func(d *jx.Decoder) error {
		return func(d *jx.Decoder) error {
			v, err := d.Str()
			*dst = append(*dst, v)
			return err
		}
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			rule.Code, err = d.Str()
		case "discount_type":
			var v string
			v, err = d.Str()
			rule.DiscountType = coupon.DiscountType(v)
		case "value":
			rule.Value, err = decodeDecimal(d)
		case "minimum_order_amount":
			rule.MinimumOrderAmount, err = decodeDecimal(d)
		case "maximum_discount_amount":
			rule.MaximumDiscountAmount, err = decodeDecimal(d)
		case "usage_limit":
			rule.UsageLimit, err = d.Int()
		case "usage_limit_per_user":
			rule.UsageLimitPerUser, err = d.Int()
		case "description":
			rule.Description, err = d.Str()
		case "status":
			var v string
			v, err = d.Str()
			rule.Status = coupon.Status(v)
		case "applicable_products":
			err = d.Arr(strs(&rule.ApplicableProducts))
		case "applicable_categories":
			err = d.Arr(strs(&rule.ApplicableCategories))
		case "excluded_products":
			err = d.Arr(strs(&rule.ExcludedProducts))
		case "excluded_categories":
			err = d.Arr(strs(&rule.ExcludedCategories))
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return rule, err
	}
	if rule.Code == "" {
		return rule, errors.New("coupon code is required")
	}
	rule.Code = coupon.NormalizeCode(rule.Code)
	rule.ID = CouponID(rule.Code)
	return rule, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}
