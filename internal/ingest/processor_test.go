package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/productimporter/internal/domain"
)

// recordingWriter keeps products by SKU and can fail chosen calls.
type recordingWriter struct {
	mu       sync.Mutex
	calls    int
	failOn   map[int]bool
	products map[string]domain.Product
	sizes    []int
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{failOn: map[int]bool{}, products: map[string]domain.Product{}}
}

func (w *recordingWriter) UpsertProducts(ctx context.Context, products []domain.Product) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++
	if w.failOn[w.calls] {
		return errors.New("deadlock found")
	}
	w.sizes = append(w.sizes, len(products))
	for _, p := range products {
		w.products[p.SKU] = p
	}
	return nil
}

type sliceSource struct {
	items []Item
}

func (s *sliceSource) Next() (Item, error) {
	if len(s.items) == 0 {
		return nil, io.EOF
	}
	it := s.items[0]
	s.items = s.items[1:]
	return it, nil
}

func validRow(row int, sku, name, price string) ValidRow {
	return ValidRow{Row: row, Product: domain.Product{
		SKU: sku, Name: name, Price: decimal.RequireFromString(price), Active: true,
	}}
}

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("sku,name,price\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "SKU-%d,Item %d,%d.99\n", i, i, i%50)
	}
	return b.String()
}

func collect(reports *[]BatchReport) func(BatchReport) error {
	return func(r BatchReport) error {
		*reports = append(*reports, r)
		return nil
	}
}

func TestBatchUpserter_1001RowsMakeTwoBatches(t *testing.T) {
	p, err := NewParser(strings.NewReader(csvRows(1001)))
	require.NoError(t, err)

	w := newRecordingWriter()
	var reports []BatchReport
	err = BatchUpserter{Store: w, Size: 1000}.Run(context.Background(), p, collect(&reports))
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1}, w.sizes)
	assert.Len(t, w.products, 1001)

	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Batch)
	assert.Equal(t, 1000, reports[0].Committed)
	assert.Equal(t, 2, reports[1].Batch)
	assert.Equal(t, 1, reports[1].Committed)
}

func TestBatchUpserter_LastOccurrenceWinsCaseInsensitively(t *testing.T) {
	p, err := NewParser(strings.NewReader("sku,name,price\nSKU-1,A,1.00\nsku-1,B,2.00\n"))
	require.NoError(t, err)

	w := newRecordingWriter()
	var reports []BatchReport
	require.NoError(t, BatchUpserter{Store: w}.Run(context.Background(), p, collect(&reports)))

	require.Len(t, w.products, 1)
	got := w.products["SKU-1"]
	assert.Equal(t, "B", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("2.00")))

	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Committed)
	assert.Equal(t, 1, reports[0].Duplicates)
	assert.Equal(t, []int{1}, w.sizes)
}

func TestBatchUpserter_FailedBatchTurnsRowsIntoErrors(t *testing.T) {
	src := &sliceSource{items: []Item{
		validRow(2, "A", "a", "1"),
		validRow(3, "B", "b", "1"),
		validRow(4, "C", "c", "1"),
		RowError{Row: 5, Reason: "price must be a number"},
		validRow(6, "D", "d", "1"),
		validRow(7, "E", "e", "1"),
	}}

	w := newRecordingWriter()
	w.failOn[2] = true

	var reports []BatchReport
	require.NoError(t, BatchUpserter{Store: w, Size: 2}.Run(context.Background(), src, collect(&reports)))

	require.Len(t, reports, 3)

	assert.Equal(t, 2, reports[0].Committed)
	assert.Empty(t, reports[0].Errors)

	failed := reports[1]
	assert.Equal(t, 2, failed.Batch)
	assert.Equal(t, 0, failed.Committed)
	assert.Equal(t, 2, failed.Failed)
	require.Len(t, failed.Errors, 3)
	assert.Equal(t, 4, failed.Errors[0].Row)
	assert.Contains(t, failed.Errors[0].Reason, "batch 2 failed")
	assert.Equal(t, 5, failed.Errors[1].Row)
	assert.Equal(t, 6, failed.Errors[2].Row)
	assert.Equal(t, 3, failed.Consumed)

	assert.Equal(t, 1, reports[2].Committed)
	assert.Contains(t, w.products, "E")
	assert.NotContains(t, w.products, "C")

	var consumed, ok, bad int
	for _, r := range reports {
		consumed += r.Consumed
		ok += r.Committed
		bad += r.ErrorCount()
	}
	assert.Equal(t, 6, consumed)
	assert.Equal(t, consumed, ok+bad)
}

func TestBatchUpserter_ReportsRejectedRunsWithoutWrites(t *testing.T) {
	items := make([]Item, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, RowError{Row: i + 2, Reason: "bad"})
	}

	w := newRecordingWriter()
	var reports []BatchReport
	require.NoError(t, BatchUpserter{Store: w, Size: 2}.Run(context.Background(), &sliceSource{items: items}, collect(&reports)))

	assert.Zero(t, w.calls)
	require.Len(t, reports, 3)
	assert.Equal(t, 2, reports[0].ErrorCount())
	assert.Equal(t, 2, reports[1].ErrorCount())
	assert.Equal(t, 1, reports[2].ErrorCount())
}

func TestBatchUpserter_SinkErrorAborts(t *testing.T) {
	p, err := NewParser(strings.NewReader(csvRows(5)))
	require.NoError(t, err)

	boom := errors.New("session store down")
	w := newRecordingWriter()
	err = BatchUpserter{Store: w, Size: 2}.Run(context.Background(), p, func(BatchReport) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, w.calls)
}

func TestBatchUpserter_BeforeWriteSeesEachBatch(t *testing.T) {
	p, err := NewParser(strings.NewReader(csvRows(3)))
	require.NoError(t, err)

	var seen []int
	u := BatchUpserter{
		Store: newRecordingWriter(),
		Size:  2,
		BeforeWrite: func(ctx context.Context, batch int) error {
			seen = append(seen, batch)
			return nil
		},
	}
	require.NoError(t, u.Run(context.Background(), p, func(BatchReport) error { return nil }))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestBatchUpserter_CancelledContextStops(t *testing.T) {
	p, err := NewParser(strings.NewReader(csvRows(3)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = BatchUpserter{Store: newRecordingWriter()}.Run(ctx, p, func(BatchReport) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
