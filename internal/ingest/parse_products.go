package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ETAnderson/productimporter/internal/domain"
)

const (
	ColumnSKU         = "sku"
	ColumnName        = "name"
	ColumnPrice       = "price"
	ColumnDescription = "description"
)

var requiredColumns = []string{ColumnSKU, ColumnName, ColumnPrice}

// Item is one parsed record: either a ValidRow or a RowError.
type Item interface {
	RowNumber() int
	isItem()
}

type ValidRow struct {
	Row     int
	Product domain.Product
}

func (v ValidRow) RowNumber() int { return v.Row }
func (ValidRow) isItem()          {}

// RowError rejects a single record. The run continues past it.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) RowNumber() int { return e.Row }
func (RowError) isItem()          {}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e RowError) Log() domain.RowError {
	return domain.RowError{Row: e.Row, Reason: e.Reason}
}

// Parser streams product rows from a CSV with a header line. The header is
// row 1 and the first data record is row 2.
type Parser struct {
	r       *csv.Reader
	columns map[string]int
	row     int
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark so a quoted first header
// field still parses.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, _ := br.Peek(len(utf8BOM)); bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

func NewParser(r io.Reader) (*Parser, error) {
	cr := csv.NewReader(skipBOM(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fatal("read header", fmt.Errorf("%w: file is empty", ErrMalformedHeader))
	}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return nil, fatal("read header", fmt.Errorf("%w: %v", ErrMalformedHeader, pe))
	}
	if err != nil {
		return nil, fatal("read header", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := columns[key]; !dup {
			columns[key] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fatal("read header", fmt.Errorf("%w: missing required columns: %s", ErrMalformedHeader, strings.Join(missing, ", ")))
	}

	return &Parser{r: cr, columns: columns, row: 1}, nil
}

// Next returns the next item, or io.EOF once the stream is exhausted. Any
// other error is a *FatalError.
func (p *Parser) Next() (Item, error) {
	rec, err := p.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	p.row++

	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return RowError{Row: p.row, Reason: fmt.Sprintf("malformed record: %v", pe.Err)}, nil
	}
	if err != nil {
		return nil, fatal("read rows", err)
	}

	return validateRow(p.row, p.field(rec, ColumnSKU), p.field(rec, ColumnName), p.field(rec, ColumnPrice), p.field(rec, ColumnDescription)), nil
}

func (p *Parser) field(rec []string, column string) string {
	i, ok := p.columns[column]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}
