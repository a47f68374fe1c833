package patron

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patrons.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func readAll(t *testing.T, src *CSVSource) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestOpenCSV_MapsHeaders(t *testing.T) {
	path := writeCSV(t, "barcode,Email Address,enable_sms,ExpirationDate,user3,Notes\n"+
		"21000001, a@example.org ,yes,2027-06-30,  x  ,ignored\n")

	var logs bytes.Buffer
	src, err := OpenCSV(path, testLogger(&logs))
	require.NoError(t, err)
	defer src.Close()

	recs := readAll(t, src)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, 2, r.Line)
	assert.Equal(t, "21000001", r.Barcode)
	assert.Equal(t, " a@example.org ", r.EmailAddress.String)
	assert.True(t, r.EnableSMS.Valid)
	assert.True(t, r.EnableSMS.Bool)
	assert.True(t, time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC).Equal(r.ExpirationDate.Time))
	assert.Equal(t, "  x  ", r.User3.String)
	assert.False(t, r.User1.Valid, "unmapped column stays absent")

	assert.Contains(t, logs.String(), "ignoring unrecognized csv columns")
	assert.Contains(t, logs.String(), "Notes")

	intent := Evaluate(r)
	assert.Equal(t, "x", intent.Fields[FieldUser3])
	assert.Equal(t, "a@example.org", intent.Fields[FieldEmailAddress])
}

func TestOpenCSV_BOMHeader(t *testing.T) {
	path := writeCSV(t, "\xEF\xBB\xBFBarcode,User1\n21000001,v\n")

	src, err := OpenCSV(path, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	defer src.Close()

	recs := readAll(t, src)
	require.Len(t, recs, 1)
	assert.Equal(t, "21000001", recs[0].Barcode)
}

func TestOpenCSV_NoHeader(t *testing.T) {
	_, err := OpenCSV(writeCSV(t, ""), testLogger(&bytes.Buffer{}))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestOpenCSV_NoBarcodeColumn(t *testing.T) {
	_, err := OpenCSV(writeCSV(t, "EmailAddress,User1\na@example.org,x\n"), testLogger(&bytes.Buffer{}))
	assert.ErrorIs(t, err, ErrNoBarcodeColumn)
}

func TestOpenCSV_MissingFile(t *testing.T) {
	_, err := OpenCSV(filepath.Join(t.TempDir(), "nope.csv"), testLogger(&bytes.Buffer{}))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVSource_BlankAndShortRows(t *testing.T) {
	path := writeCSV(t, "Barcode,EmailAddress,User1\n"+
		"A,a@example.org,\n"+
		",,\n"+
		"   ,  ,\n"+
		",orphan@example.org\n"+
		"B\n")

	src, err := OpenCSV(path, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	defer src.Close()

	recs := readAll(t, src)
	require.Len(t, recs, 3)

	assert.Equal(t, "A", recs[0].Barcode)
	assert.Equal(t, "", recs[1].Barcode)
	assert.False(t, recs[1].HasKey())
	assert.Equal(t, "orphan@example.org", recs[1].EmailAddress.String)
	assert.Equal(t, 5, recs[1].Line)
	assert.Equal(t, "B", recs[2].Barcode)
	assert.False(t, recs[2].EmailAddress.Valid)
}

func TestCSVSource_UnparseableCellIsAbsent(t *testing.T) {
	path := writeCSV(t, "Barcode,ExpirationDate,EnableSMS,User1\n21000001,someday,perhaps,kept\n")

	var logs bytes.Buffer
	src, err := OpenCSV(path, testLogger(&logs))
	require.NoError(t, err)
	defer src.Close()

	recs := readAll(t, src)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].ExpirationDate.Valid)
	assert.False(t, recs[0].EnableSMS.Valid)
	assert.Equal(t, "kept", recs[0].User1.String)
	assert.Contains(t, logs.String(), "unparseable cell treated as absent")
	assert.Contains(t, logs.String(), "column=ExpirationDate")
}

func TestCSVSource_ExcelQuotedBarcode(t *testing.T) {
	path := writeCSV(t, "Barcode,User2\n\"=\"\"0012345\"\"\",v\n")

	src, err := OpenCSV(path, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	defer src.Close()

	recs := readAll(t, src)
	require.Len(t, recs, 1)
	assert.Equal(t, "0012345", recs[0].Barcode)
}

func TestCSVSource_Cancelled(t *testing.T) {
	path := writeCSV(t, "Barcode,User1\nA,1\nB,2\n")

	src, err := OpenCSV(path, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rec, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", rec.Barcode)

	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
