// Package csv parses delimited text into a header and raw string rows for
// the in-memory engine. Typing happens later, in the engine, so the parser
// only deals with structure: delimiter, header, null markers and width.
//
// Unlike a lenient loader, a row whose width differs from the header is a
// fatal error; malformed input aborts the run instead of being skipped.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Options configures the CSV parser behavior. All fields are optional; sensible
// defaults are applied when a field is zero.
type Options struct {
	// HasHeader indicates whether the first row contains column headers.
	// Without a header, columns are named _c0, _c1, ...
	HasHeader bool

	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// NullValue is the field text that denotes NULL. The empty field is
	// always NULL.
	NullValue string
}

// Result is the parsed file. Rows[i][j] is nil for NULL.
type Result struct {
	Header []string
	Rows   [][]*string
}

// ErrMalformed marks structurally invalid input.
var ErrMalformed = errors.New("csv: malformed input")

// Parser parses CSV input according to Options. It is safe to reuse across
// inputs, but Parser itself is not concurrency-safe.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// checkEvery is how many rows are read between context checks.
const checkEvery = 4096

// Parse consumes every record from r. It returns an error wrapping
// ErrMalformed (with the 1-based line number) for unparsable records or
// records whose width differs from the first record.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.ReuseRecord = true
	// encoding/csv enforces the width of the first record.
	cr.FieldsPerRecord = 0

	res := &Result{}
	first := true
	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, pe.Line, pe.Err)
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}

		if first {
			first = false
			if p.opt.HasHeader {
				res.Header = normalizeHeaders(rec)
				continue
			}
			res.Header = syntheticHeaders(len(rec))
		}

		row := make([]*string, len(rec))
		for i, val := range rec {
			if val == "" || (p.opt.NullValue != "" && val == p.opt.NullValue) {
				continue
			}
			v := val
			row[i] = &v
		}
		res.Rows = append(res.Rows, row)
	}

	if first {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	return res, nil
}

// syntheticHeaders names n columns _c0.._c(n-1).
func syntheticHeaders(n int) []string {
	h := make([]string, n)
	for i := range h {
		h[i] = "_c" + strconv.Itoa(i)
	}
	return h
}

// normalizeHeaders trims header cells, strips a UTF-8 BOM from the first cell,
// names empty cells positionally and suffixes repeated names with _1, _2, ...
// Header text is otherwise kept verbatim: column names are part of the
// contract with the types mapping.
func normalizeHeaders(h []string) []string {
	res := make([]string, len(h))
	seen := make(map[string]int, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		if c == "" {
			c = "_c" + strconv.Itoa(i)
		}
		if n, dup := seen[c]; dup {
			seen[c] = n + 1
			c = c + "_" + strconv.Itoa(n+1)
		} else {
			seen[c] = 0
		}
		res[i] = c
	}
	return res
}
