package patron

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// changeRule reports the value to write for one field of r, and whether the
// field counts as changed at all.
type changeRule func(r Record) (any, bool)

type fieldRule struct {
	name   string
	change changeRule
}

// updateFields is the closed, ordered set of fields a run may write.
var updateFields = []fieldRule{
	{FieldAddrCheckDate, dateRule(func(r Record) pgtype.Date { return r.AddrCheckDate })},
	{FieldAltEmailAddress, textRule(func(r Record) pgtype.Text { return r.AltEmailAddress })},
	{FieldEmailAddress, textRule(func(r Record) pgtype.Text { return r.EmailAddress })},
	{FieldEnableSMS, boolRule(func(r Record) pgtype.Bool { return r.EnableSMS })},
	{FieldExpirationDate, dateRule(func(r Record) pgtype.Date { return r.ExpirationDate })},
	{FieldUser1, textRule(func(r Record) pgtype.Text { return r.User1 })},
	{FieldUser2, textRule(func(r Record) pgtype.Text { return r.User2 })},
	{FieldUser3, textRule(func(r Record) pgtype.Text { return r.User3 })},
	{FieldUser4, textRule(func(r Record) pgtype.Text { return r.User4 })},
	{FieldUser5, textRule(func(r Record) pgtype.Text { return r.User5 })},
}

// FieldNames returns the updatable field names in evaluation order.
func FieldNames() []string {
	names := make([]string, len(updateFields))
	for i, f := range updateFields {
		names[i] = f.name
	}
	return names
}

// Evaluate derives the update intent for r. Unchanged fields are omitted,
// never sent as clears. Evaluate is pure.
func Evaluate(r Record) Intent {
	intent := Intent{Fields: make(map[string]any)}
	for _, f := range updateFields {
		v, ok := f.change(r)
		if !ok {
			continue
		}
		intent.Fields[f.name] = v
		intent.ShouldWrite = true
	}
	return intent
}

// dateRule: set, finite and after the zero time. 0001-01-01 is what an
// uninitialised date looks like after upstream parsing, so it reads as absent.
func dateRule(get func(Record) pgtype.Date) changeRule {
	return func(r Record) (any, bool) {
		d := get(r)
		if !d.Valid || d.InfinityModifier != pgtype.Finite {
			return nil, false
		}
		if !d.Time.After(time.Time{}) {
			return nil, false
		}
		return d.Time, true
	}
}

// textRule: non-empty after trimming; the trimmed value is written.
func textRule(get func(Record) pgtype.Text) changeRule {
	return func(r Record) (any, bool) {
		t := get(r)
		if !t.Valid {
			return nil, false
		}
		s := strings.TrimSpace(t.String)
		if s == "" {
			return nil, false
		}
		return s, true
	}
}

// boolRule: presence alone is a change, false included.
func boolRule(get func(Record) pgtype.Bool) changeRule {
	return func(r Record) (any, bool) {
		b := get(r)
		if !b.Valid {
			return nil, false
		}
		return b.Bool, true
	}
}
