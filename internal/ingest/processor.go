package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ETAnderson/productimporter/internal/domain"
)

const DefaultBatchSize = 1000

type RecordWriter interface {
	UpsertProducts(ctx context.Context, products []domain.Product) error
}

type ItemSource interface {
	Next() (Item, error)
}

// BatchReport summarises everything consumed since the previous report.
type BatchReport struct {
	Batch      int // number of the last batch written, 1-based
	Consumed   int // valid and invalid rows read since the previous report
	Committed  int // valid rows in a committed batch, duplicates included
	Failed     int // valid rows lost to a failed batch
	Duplicates int // rows collapsed into a later row with the same SKU
	Errors     []RowError
}

func (r BatchReport) ErrorCount() int {
	return len(r.Errors)
}

// BatchUpserter writes valid rows to the store in fixed size batches, one
// batch at a time. Within a batch the last occurrence of a SKU wins.
type BatchUpserter struct {
	Store RecordWriter
	Size  int

	// BeforeWrite, when set, runs ahead of every store write.
	BeforeWrite func(ctx context.Context, batch int) error
}

func (u BatchUpserter) size() int {
	if u.Size <= 0 {
		return DefaultBatchSize
	}
	return u.Size
}

// Run drains src. sink receives a report after every batch, after every
// Size rejected rows that arrive without a batch, and once more for the
// remainder. A sink error aborts the run; store errors do not.
func (u BatchUpserter) Run(ctx context.Context, src ItemSource, sink func(BatchReport) error) error {
	if u.Store == nil {
		return errors.New("batch upserter has no store")
	}

	size := u.size()
	batchNo := 0
	pending := make([]ValidRow, 0, size)
	var rejected []RowError

	// flush reports rejected rows and, when write is set, commits pending
	// valid rows as the next batch.
	flush := func(write bool) error {
		rep := BatchReport{Consumed: len(rejected)}

		if write && len(pending) > 0 {
			batchNo++
			rep.Consumed += len(pending)

			failed, dups, err := u.write(ctx, batchNo, pending)
			if err != nil {
				return err
			}
			rep.Duplicates = dups
			if failed != nil {
				rep.Failed = len(pending)
				rejected = append(rejected, failed...)
				sort.SliceStable(rejected, func(i, j int) bool { return rejected[i].Row < rejected[j].Row })
			} else {
				rep.Committed = len(pending)
			}
			pending = pending[:0]
		}

		rep.Batch = batchNo
		rep.Errors = rejected
		rejected = nil

		if rep.Consumed == 0 {
			return nil
		}
		return sink(rep)
	}

	for {
		item, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch it := item.(type) {
		case ValidRow:
			pending = append(pending, it)
		case RowError:
			rejected = append(rejected, it)
		default:
			return fmt.Errorf("unexpected item %T", item)
		}

		switch {
		case len(pending) >= size:
			if err := flush(true); err != nil {
				return err
			}
		case len(rejected) >= size:
			if err := flush(false); err != nil {
				return err
			}
		}
	}

	return flush(true)
}

// write commits one batch. A store failure is returned as one RowError per
// row rather than as an error; only context cancellation aborts.
func (u BatchUpserter) write(ctx context.Context, batchNo int, rows []ValidRow) ([]RowError, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	products, dups := dedupe(rows)

	if u.BeforeWrite != nil {
		if err := u.BeforeWrite(ctx, batchNo); err != nil {
			return nil, 0, err
		}
	}

	err := u.Store.UpsertProducts(ctx, products)
	if err == nil {
		return nil, dups, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, 0, ctxErr
	}

	failed := make([]RowError, 0, len(rows))
	for _, r := range rows {
		failed = append(failed, RowError{Row: r.Row, Reason: fmt.Sprintf("batch %d failed: %v", batchNo, err)})
	}
	return failed, dups, nil
}

// dedupe keeps one product per normalized SKU, holding the values of its last
// occurrence at the position of its first.
func dedupe(rows []ValidRow) ([]domain.Product, int) {
	out := make([]domain.Product, 0, len(rows))
	index := make(map[string]int, len(rows))

	for _, r := range rows {
		p := r.Product.Normalize()
		if i, ok := index[p.SKU]; ok {
			out[i] = p
			continue
		}
		index[p.SKU] = len(out)
		out = append(out, p)
	}
	return out, len(rows) - len(out)
}
