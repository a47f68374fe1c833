package patron

// convert.go turns raw CSV cells into the pgtype values a Record carries.
//
// Spreadsheet exports are messy:
//   - Multiple date formats (US, ISO, with or without a time part)
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//
// Empty cells convert to Valid=false with a nil error. Cells that hold
// something unparseable also convert to Valid=false but return an error so
// the caller can report them.

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
const TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05",
		"1/2/2006", "01/02/2006", "1/2/2006 15:04", "1/2/2006 15:04:05", "1/2/2006 3:04:05 PM",
		"1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// ParseDate converts a cell to pgtype.Date.
// Supports multiple date formats and handles 2-digit years with pivot.
func ParseDate(s string) (pgtype.Date, error) {
	s = CleanCell(s)
	if s == "" {
		return pgtype.Date{Valid: false}, nil
	}

	switch strings.ToLower(s) {
	case "infinity":
		return pgtype.Date{InfinityModifier: pgtype.Infinity, Valid: true}, nil
	case "-infinity":
		return pgtype.Date{InfinityModifier: pgtype.NegativeInfinity, Valid: true}, nil
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return pgtype.Date{Time: t.UTC(), Valid: true}, nil
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: t, Valid: true}, nil
		}
	}

	return pgtype.Date{Valid: false}, fmt.Errorf("invalid date %q", s)
}

// ParseBool converts a cell to pgtype.Bool.
// Accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (pgtype.Bool, error) {
	s = strings.ToLower(CleanCell(s))
	if s == "" {
		return pgtype.Bool{Valid: false}, nil
	}

	switch s {
	case "true", "t", "yes", "y", "1":
		return pgtype.Bool{Bool: true, Valid: true}, nil
	case "false", "f", "no", "n", "0":
		return pgtype.Bool{Bool: false, Valid: true}, nil
	default:
		return pgtype.Bool{Valid: false}, fmt.Errorf("invalid boolean %q", s)
	}
}

// ToText wraps a cell as present text. Whitespace is preserved so the
// evaluator, not the reader, decides what blank means.
func ToText(s string) pgtype.Text {
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return pgtype.Text{String: s, Valid: true}
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// headerKey normalises a header cell for matching: "Expiration Date",
// "expiration_date" and "ExpirationDate" all map to "expirationdate".
func headerKey(s string) string {
	s = strings.ToLower(CleanCell(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}
