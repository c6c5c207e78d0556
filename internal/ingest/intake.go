package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const DefaultMaxUploadBytes int64 = 100 << 20

// sniffLen matches what http.DetectContentType considers.
const sniffLen = 512

// Intake gates uploads before any parsing: name, content sniff and size.
// Accepted uploads are spooled to disk so the run can read them after the
// request that carried them has finished.
type Intake struct {
	MaxBytes int64
	SpoolDir string // empty means os.TempDir()
}

type Upload struct {
	Filename  string
	Path      string
	Size      int64
	TotalRows int // line count minus the header; refined when the run completes
}

func (u Upload) Open() (io.ReadCloser, error) {
	return os.Open(u.Path)
}

func (u Upload) Remove() error {
	if u.Path == "" {
		return nil
	}
	err := os.Remove(u.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (in Intake) Accept(filename string, r io.Reader) (Upload, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return Upload{}, fmt.Errorf("%w: %q must have a .csv extension", ErrUnsupportedType, name)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	if ct := http.DetectContentType(head); !strings.HasPrefix(ct, "text/") {
		return Upload{}, fmt.Errorf("%w: detected %s", ErrUnsupportedType, ct)
	}

	limit := in.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}

	f, err := os.CreateTemp(in.SpoolDir, "import-*.csv")
	if err != nil {
		return Upload{}, fmt.Errorf("spool upload: %w", err)
	}

	lc := &lineCounter{}
	src := io.LimitReader(io.MultiReader(bytes.NewReader(head), r), limit+1)
	size, err := io.Copy(io.MultiWriter(f, lc), src)
	closeErr := f.Close()

	up := Upload{Filename: name, Path: f.Name(), Size: size}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = up.Remove()
		return Upload{}, fmt.Errorf("spool upload: %w", err)
	}
	if size > limit {
		_ = up.Remove()
		return Upload{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, limit)
	}

	if rows := lc.lines() - 1; rows > 0 {
		up.TotalRows = rows
	}
	return up, nil
}

type lineCounter struct {
	newlines int
	last     byte
	seen     bool
}

func (c *lineCounter) Write(p []byte) (int, error) {
	c.newlines += bytes.Count(p, []byte{'\n'})
	if len(p) > 0 {
		c.last = p[len(p)-1]
		c.seen = true
	}
	return len(p), nil
}

func (c *lineCounter) lines() int {
	if c.seen && c.last != '\n' {
		return c.newlines + 1
	}
	return c.newlines
}
