package patron

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

var (
	// ErrNoHeader is returned when the input file has no header row.
	ErrNoHeader = errors.New("csv file has no header row")

	// ErrNoBarcodeColumn is returned when the header has no Barcode column.
	ErrNoBarcodeColumn = errors.New("csv header has no Barcode column")
)

// cellSetter copies one cell into a record. A non-nil error means the cell
// held something unparseable and the field was left absent.
type cellSetter func(r *Record, cell string) error

// columns maps normalised header names to setters. Barcode is handled apart
// because it is a plain string.
var columns = map[string]cellSetter{
	headerKey(FieldAddrCheckDate):   dateCell(func(r *Record) *pgtype.Date { return &r.AddrCheckDate }),
	headerKey(FieldAltEmailAddress): textCell(func(r *Record) *pgtype.Text { return &r.AltEmailAddress }),
	headerKey(FieldEmailAddress):    textCell(func(r *Record) *pgtype.Text { return &r.EmailAddress }),
	headerKey(FieldEnableSMS):       boolCell(func(r *Record) *pgtype.Bool { return &r.EnableSMS }),
	headerKey(FieldExpirationDate):  dateCell(func(r *Record) *pgtype.Date { return &r.ExpirationDate }),
	headerKey(FieldUser1):           textCell(func(r *Record) *pgtype.Text { return &r.User1 }),
	headerKey(FieldUser2):           textCell(func(r *Record) *pgtype.Text { return &r.User2 }),
	headerKey(FieldUser3):           textCell(func(r *Record) *pgtype.Text { return &r.User3 }),
	headerKey(FieldUser4):           textCell(func(r *Record) *pgtype.Text { return &r.User4 }),
	headerKey(FieldUser5):           textCell(func(r *Record) *pgtype.Text { return &r.User5 }),
}

func dateCell(field func(*Record) *pgtype.Date) cellSetter {
	return func(r *Record, cell string) error {
		d, err := ParseDate(cell)
		*field(r) = d
		return err
	}
}

func boolCell(field func(*Record) *pgtype.Bool) cellSetter {
	return func(r *Record, cell string) error {
		b, err := ParseBool(cell)
		*field(r) = b
		return err
	}
}

func textCell(field func(*Record) *pgtype.Text) cellSetter {
	return func(r *Record, cell string) error {
		*field(r) = ToText(cell)
		return nil
	}
}

type boundColumn struct {
	index  int
	header string
	set    cellSetter
}

// CSVSource reads patron records lazily from a CSV file. The first row is
// the header; columns are matched to PAPI field names case-insensitively and
// unknown columns are ignored.
type CSVSource struct {
	file    *os.File
	reader  *csv.Reader
	barcode int
	bound   []boundColumn
	logger  *slog.Logger
}

// OpenCSV opens path and reads its header. Errors here are configuration
// errors: nothing has been processed yet.
func OpenCSV(path string, logger *slog.Logger) (*CSVSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	r := csv.NewReader(wrapInput(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoHeader)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	s := &CSVSource{file: f, reader: r, barcode: -1, logger: logger}
	var ignored []string
	for i, h := range header {
		key := headerKey(h)
		if key == headerKey(FieldBarcode) {
			s.barcode = i
			continue
		}
		set, ok := columns[key]
		if !ok {
			if key != "" {
				ignored = append(ignored, strings.TrimSpace(h))
			}
			continue
		}
		s.bound = append(s.bound, boundColumn{index: i, header: strings.TrimSpace(h), set: set})
	}

	if s.barcode < 0 {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNoBarcodeColumn)
	}
	if len(ignored) > 0 {
		logger.Warn("ignoring unrecognized csv columns", "columns", ignored)
	}
	logger.Debug("csv header mapped", "fields", len(s.bound))

	return s, nil
}

// Next returns the next non-blank record, io.EOF once the file is exhausted,
// or ctx's error once ctx is done.
func (s *CSVSource) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		row, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("read csv: %w", err)
		}

		if isBlankRow(row) {
			continue
		}

		line, _ := s.reader.FieldPos(0)
		return s.build(row, line), nil
	}
}

func (s *CSVSource) build(row []string, line int) Record {
	rec := Record{Line: line}
	if s.barcode < len(row) {
		rec.Barcode = CleanCell(row[s.barcode])
	}

	for _, col := range s.bound {
		if col.index >= len(row) {
			continue
		}
		if err := col.set(&rec, row[col.index]); err != nil {
			s.logger.Warn("unparseable cell treated as absent",
				"csv_line", line,
				"column", col.header,
				"error", err,
			)
		}
	}
	return rec
}

// Close closes the underlying file.
func (s *CSVSource) Close() error {
	return s.file.Close()
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
