// Package patron holds the patron-record domain: the input rows read from a
// spreadsheet, the field-level change rules that turn a row into an update
// intent, and the CSV source that produces rows lazily.
package patron

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// PAPI PatronUpdateParams property names. The CSV header uses the same names
// (case-insensitive) and intents are keyed by them.
const (
	FieldBarcode         = "Barcode"
	FieldAddrCheckDate   = "AddrCheckDate"
	FieldAltEmailAddress = "AltEmailAddress"
	FieldEmailAddress    = "EmailAddress"
	FieldEnableSMS       = "EnableSMS"
	FieldExpirationDate  = "ExpirationDate"
	FieldUser1           = "User1"
	FieldUser2           = "User2"
	FieldUser3           = "User3"
	FieldUser4           = "User4"
	FieldUser5           = "User5"
)

// Record is one row of input. Optional values use pgtype's null-aware types:
// Valid=false means the value is absent, which is distinct from a present
// but blank string.
type Record struct {
	Line    int // CSV line number, 0 when not read from a file
	Barcode string

	AddrCheckDate   pgtype.Date
	AltEmailAddress pgtype.Text
	EmailAddress    pgtype.Text
	EnableSMS       pgtype.Bool
	ExpirationDate  pgtype.Date
	User1           pgtype.Text
	User2           pgtype.Text
	User3           pgtype.Text
	User4           pgtype.Text
	User5           pgtype.Text
}

// Key returns the trimmed barcode.
func (r Record) Key() string {
	return strings.TrimSpace(r.Barcode)
}

// HasKey reports whether the record carries a usable barcode.
func (r Record) HasKey() bool {
	return r.Key() != ""
}

// Intent is the set of field writes derived from one record.
// Fields holds only changed fields; ShouldWrite is false iff Fields is empty.
type Intent struct {
	Fields      map[string]any
	ShouldWrite bool
}

// UpdateResult is what the remote service reported for one patron update.
type UpdateResult struct {
	StatusCode   int
	Succeeded    bool
	ErrorCode    int
	ErrorMessage string
}
