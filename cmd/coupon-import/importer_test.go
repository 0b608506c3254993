package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-checkout/internal/domain/coupon"
)

type memSink struct {
	mu      sync.Mutex
	batches int
	rules   map[string]coupon.Rule
	err     error
}

func (s *memSink) UpsertBatch(_ context.Context, rules []coupon.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.rules == nil {
		s.rules = map[string]coupon.Rule{}
	}
	s.batches++
	for _, r := range rules {
		s.rules[r.Code] = r
	}
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImporter(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "SPRING01", "spring02", "x", "SUMMER01"),
		writeGz(t, dir, "b.gz", "SPRING01", "AUTUMN01", "WINTER01", "SPRING02"),
		writeGz(t, dir, "c.gz", "winter01", "LONGERTHANALLOWEDCODE"),
	}

	s := &memSink{}
	rule := coupon.Rule{DiscountType: coupon.DiscountFixed, Status: coupon.StatusActive, Description: "promo"}
	im := newImporter(s, rule, options{batchSize: 2, capacity: 1000, fpr: 0.001, minLen: 4, maxLen: 10})

	st, err := im.Import(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), st.read)
	assert.Equal(t, uint64(2), st.rejected)
	assert.Equal(t, uint64(3), st.duplicates)

	require.Len(t, s.rules, 5)
	for _, code := range []string{"SPRING01", "SPRING02", "SUMMER01", "AUTUMN01", "WINTER01"} {
		r, ok := s.rules[code]
		require.True(t, ok, code)
		assert.Equal(t, "promo", r.Description)
		assert.Equal(t, im.newID(code), r.ID)
	}
	assert.Greater(t, s.batches, 1)
}

func TestImporter_SinkError(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 500)
	for i := range lines {
		lines[i] = "CODE" + strings.Repeat("A", i%5) + string(rune('A'+i%26))
	}
	files := []string{writeGz(t, dir, "a.gz", lines...), writeGz(t, dir, "b.gz", lines...)}

	s := &memSink{err: errors.New("db down")}
	im := newImporter(s, coupon.Rule{DiscountType: coupon.DiscountFixed}, options{batchSize: 1, minLen: 1, maxLen: 20})

	_, err := im.Import(context.Background(), files)
	assert.ErrorContains(t, err, "db down")
}

func TestImporter_MissingFile(t *testing.T) {
	im := newImporter(&memSink{}, coupon.Rule{}, options{minLen: 1, maxLen: 10})
	_, err := im.Import(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})
	assert.Error(t, err)
}

func TestTemplateRule(t *testing.T) {
	base := template{
		discountType: "percentage",
		value:        "15",
		minOrder:     "20",
		maxDiscount:  "0",
		usageLimit:   1,
		perUser:      1,
		categories:   "kitchen, home,",
	}

	r, err := base.rule()
	require.NoError(t, err)
	assert.Equal(t, coupon.DiscountPercentage, r.DiscountType)
	assert.Equal(t, []string{"kitchen", "home"}, r.ApplicableCategories)
	assert.Nil(t, r.ValidUntil)

	withExpiry := base
	withExpiry.validUntil = "2030-01-01T00:00:00Z"
	r, err = withExpiry.rule()
	require.NoError(t, err)
	require.NotNil(t, r.ValidUntil)

	for name, mutate := range map[string]func(*template){
		"type":       func(t *template) { t.discountType = "bogo" },
		"value":      func(t *template) { t.value = "ten" },
		"negative":   func(t *template) { t.minOrder = "-1" },
		"percentage": func(t *template) { t.value = "120" },
		"expiry":     func(t *template) { t.validUntil = "tomorrow" },
	} {
		t.Run(name, func(t *testing.T) {
			bad := base
			mutate(&bad)
			_, err := bad.rule()
			assert.Error(t, err)
		})
	}
}
