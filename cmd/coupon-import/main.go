// Command coupon-import bulk-loads discount codes from gzip-compressed files
// holding one code per line. Every imported code gets the same rule, given by
// flags.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		pattern     string
		opts        options
		tpl         template
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&pattern, "files", "data/*.gz", "glob of gzip files with one code per line")
	flag.IntVar(&opts.batchSize, "batch-size", 1000, "codes per upsert batch")
	flag.UintVar(&opts.capacity, "expected-codes", 10_000_000, "expected number of codes, sizes the bloom filter")
	flag.Float64Var(&opts.fpr, "false-positive-rate", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opts.minLen, "min-length", 4, "shortest accepted code")
	flag.IntVar(&opts.maxLen, "max-length", 32, "longest accepted code")

	flag.StringVar(&tpl.discountType, "type", string(coupon.DiscountPercentage), "discount type: percentage, fixed_amount or free_shipping")
	flag.StringVar(&tpl.value, "value", "10", "discount value (percent or amount)")
	flag.StringVar(&tpl.minOrder, "min-order", "0", "minimum order amount")
	flag.StringVar(&tpl.maxDiscount, "max-discount", "0", "maximum discount amount (0 = uncapped)")
	flag.IntVar(&tpl.usageLimit, "usage-limit", 1, "total redemptions per code (0 = unlimited)")
	flag.IntVar(&tpl.perUser, "per-user-limit", 1, "redemptions per user (0 = unlimited)")
	flag.StringVar(&tpl.validUntil, "valid-until", "", "expiry as RFC 3339 timestamp")
	flag.StringVar(&tpl.description, "description", "", "description shown to customers")
	flag.StringVar(&tpl.categories, "categories", "", "comma-separated applicable categories")
	flag.StringVar(&tpl.excluded, "excluded-categories", "", "comma-separated excluded categories")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, pattern, opts, tpl); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL, pattern string, opts options, tpl template) error {
	rule, err := tpl.rule()
	if err != nil {
		return errors.Wrap(err, "template rule")
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "expand files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	imp := newImporter(postgres.NewCouponRepository(pool), rule, opts)
	stats, err := imp.Import(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int("files", len(files)),
		slog.Uint64("read", stats.read),
		slog.Uint64("rejected", stats.rejected),
		slog.Uint64("duplicates", stats.duplicates),
		slog.Uint64("written", stats.written),
	)
	return nil
}

// template holds the rule flags as given on the command line.
type template struct {
	discountType string
	value        string
	minOrder     string
	maxDiscount  string
	usageLimit   int
	perUser      int
	validUntil   string
	description  string
	categories   string
	excluded     string
}

func (t template) rule() (coupon.Rule, error) {
	rule := coupon.Rule{
		DiscountType:         coupon.DiscountType(t.discountType),
		UsageLimit:           t.usageLimit,
		UsageLimitPerUser:    t.perUser,
		Status:               coupon.StatusActive,
		Description:          t.description,
		ApplicableCategories: splitList(t.categories),
		ExcludedCategories:   splitList(t.excluded),
	}
	switch rule.DiscountType {
	case coupon.DiscountPercentage, coupon.DiscountFixed, coupon.DiscountFreeShipping:
	default:
		return rule, errors.Errorf("unknown discount type %q", t.discountType)
	}

	var err error
	if rule.Value, err = decimal.NewFromString(t.value); err != nil {
		return rule, errors.Wrap(err, "value")
	}
	if rule.MinimumOrderAmount, err = decimal.NewFromString(t.minOrder); err != nil {
		return rule, errors.Wrap(err, "min order")
	}
	if rule.MaximumDiscountAmount, err = decimal.NewFromString(t.maxDiscount); err != nil {
		return rule, errors.Wrap(err, "max discount")
	}
	if rule.Value.IsNegative() || rule.MinimumOrderAmount.IsNegative() || rule.MaximumDiscountAmount.IsNegative() {
		return rule, errors.New("amounts must not be negative")
	}
	if rule.DiscountType == coupon.DiscountPercentage && rule.Value.GreaterThan(decimal.NewFromInt(100)) {
		return rule, errors.New("percentage must not exceed 100")
	}
	if t.validUntil != "" {
		until, err := time.Parse(time.RFC3339, t.validUntil)
		if err != nil {
			return rule, errors.Wrap(err, "valid until")
		}
		rule.ValidUntil = &until
	}
	return rule, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
