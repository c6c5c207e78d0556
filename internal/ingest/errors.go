package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrTooLarge        = errors.New("upload exceeds the size limit")
	ErrUnsupportedType = errors.New("upload is not a CSV file")
	ErrMalformedHeader = errors.New("malformed header")
)

// FatalError stops a run. Everything else the parser reports is a RowError
// and the stream continues.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
