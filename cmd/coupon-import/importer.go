package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
	"github.com/xenking/marketplace-checkout/internal/fixture"
)

const progressEvery = 1_000_000

// sink stores rules; satisfied by *postgres.CouponRepository.
type sink interface {
	UpsertBatch(ctx context.Context, rules []coupon.Rule) error
}

type options struct {
	batchSize int
	capacity  uint
	fpr       float64
	minLen    int
	maxLen    int
}

type stats struct {
	read       uint64
	rejected   uint64
	duplicates uint64
	written    uint64
}

// importer streams codes from every file concurrently into one writer.
//
// The writer drops codes the bloom filter has already seen. A false positive
// would drop a code that was never written, so every code reported as seen is
// also kept in the suspects set and upserted once at the end. Upserts leave
// existing usage counts untouched, so writing a true duplicate again is
// harmless.
type importer struct {
	sink  sink
	rule  coupon.Rule
	opts  options
	newID func(code string) string
}

func newImporter(s sink, rule coupon.Rule, opts options) *importer {
	if opts.batchSize <= 0 {
		opts.batchSize = 1000
	}
	if opts.capacity == 0 {
		opts.capacity = 1_000_000
	}
	if opts.fpr <= 0 {
		opts.fpr = 0.001
	}
	return &importer{
		sink: s,
		rule: rule,
		opts: opts,
		newID: fixture.CouponID,
	}
}

func (im *importer) Import(ctx context.Context, files []string) (stats, error) {
	var st stats
	codes := make(chan string, 4096)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for i, path := range files {
		readers.Go(func() error {
			return im.stream(rctx, i, path, codes)
		})
	}

	g.Go(func() error {
		defer close(codes)
		return readers.Wait()
	})
	g.Go(func() error {
		return im.write(gctx, codes, &st)
	})
	if err := g.Wait(); err != nil {
		return st, err
	}
	return st, nil
}

func (im *importer) write(ctx context.Context, codes <-chan string, st *stats) error {
	filter := bloom.NewWithEstimates(im.opts.capacity, im.opts.fpr)
	suspects := make(map[string]struct{})
	batch := make([]coupon.Rule, 0, im.opts.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.sink.UpsertBatch(ctx, batch); err != nil {
			return errors.Wrap(err, "upsert batch")
		}
		st.written += uint64(len(batch))
		batch = batch[:0]
		return nil
	}

	for raw := range codes {
		st.read++
		code := coupon.NormalizeCode(raw)
		if len(code) < im.opts.minLen || len(code) > im.opts.maxLen {
			st.rejected++
			continue
		}
		if filter.TestAndAddString(code) {
			st.duplicates++
			suspects[code] = struct{}{}
			continue
		}
		batch = append(batch, im.ruleFor(code))
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
		if st.read%progressEvery == 0 {
			slog.Info("import progress", slog.Uint64("read", st.read), slog.Uint64("written", st.written))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for code := range suspects {
		batch = append(batch, im.ruleFor(code))
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (im *importer) ruleFor(code string) coupon.Rule {
	r := im.rule
	r.Code = code
	r.ID = im.newID(code)
	return r
}

// stream sends every line of a gzip file to out.
func (im *importer) stream(ctx context.Context, idx int, path string, out chan<- string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file complete", slog.Int("file", idx+1), slog.String("path", path), slog.Uint64("lines", n))
	return nil
}
