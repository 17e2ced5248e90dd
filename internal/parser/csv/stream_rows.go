// Package csv streams flat transaction records from a CSV source into typed,
// pooled rows.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"scoutetl/internal/record"
)

// Options controls CSV decoding.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// TrimSpace trims edge whitespace from every field.
	TrimSpace bool

	// Encoding selects an optional legacy single-byte decode for sources
	// exported by older POS systems: "" or "utf-8" (as-is), "latin1",
	// "windows-1252".
	Encoding string

	// HeaderMap renames source headers to canonical field names before
	// matching. Entries here extend (and can override) DefaultHeaderMap.
	HeaderMap map[string]string
}

// DefaultHeaderMap canonicalizes known alternate header spellings.
var DefaultHeaderMap = map[string]string{
	"city_municipality": record.FieldCity,
}

// DefaultOptions returns the options used for the source system's exports.
func DefaultOptions() Options {
	return Options{Comma: ',', TrimSpace: true}
}

func decodeReader(r io.Reader, enc string) (io.Reader, error) {
	var dec *encoding.Decoder
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin1", "iso-8859-1":
		dec = charmap.ISO8859_1.NewDecoder()
	case "windows-1252", "cp1252":
		dec = charmap.Windows1252.NewDecoder()
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", enc)
	}
	return transform.NewReader(r, dec), nil
}

// StreamRecords reads CSV from src and sends parsed rows to out.
//
// The first record must be a header; it is mapped onto record.Fields after
// HeaderMap renames. Row-scoped failures are reported through onErr with
// their 1-based line number and the row is skipped; the stream continues.
// The returned error is terminal (I/O, header, encoding).
//
// On ctx cancellation, in-flight rows are Dropped, not Freed, so downstream
// drain-safe stages never observe a recycled row.
func StreamRecords(
	ctx context.Context,
	src io.ReadCloser,
	opt Options,
	out chan<- *record.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	if onErr == nil {
		onErr = func(int, error) {}
	}

	rd, err := decodeReader(src, opt.Encoding)
	if err != nil {
		return err
	}

	cr := csv.NewReader(rd)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	// colIx[i] is the source index for canonical field i, -1 when absent.
	colIx := make([]int, len(record.Fields))
	for i := range colIx {
		colIx[i] = -1
	}
	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		if mapped, ok := opt.HeaderMap[h]; ok {
			h = mapped
		} else if mapped, ok := DefaultHeaderMap[h]; ok {
			h = mapped
		}
		srcToIdx[h] = i
	}
	for t, target := range record.Fields {
		if si, ok := srcToIdx[target]; ok {
			colIx[t] = si
		}
	}

	vals := make([]string, len(record.Fields))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			onErr(line, fmt.Errorf("csv read: %w", err))
			continue
		}

		for t := range record.Fields {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				vals[t] = ""
				continue
			}
			v := rec[si]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			vals[t] = v
		}

		row, err := record.Parse(line, vals)
		if err != nil {
			onErr(line, err)
			continue
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// Do not re-pool on cancellation.
			row.Drop()
			return ctx.Err()
		}
	}
}
