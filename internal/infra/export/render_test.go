package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

func sampleDatabase() (*verification.Database, []*verification.Record) {
	db := &verification.Database{
		ID:               uuid.New(),
		CycleID:          uuid.New(),
		BusinessID:       uuid.New(),
		Status:           verification.DatabaseStatusReady,
		TransactionCount: 2,
	}
	at := time.Date(2026, 10, 13, 14, 30, 0, 0, time.UTC)
	records := []*verification.Record{
		{ID: uuid.New(), DatabaseID: db.ID, TransactionID: uuid.New(), CustomerPhone: "+46700000001", TransactionAmount: 25000, RewardAmount: 1250, TransactionTime: at, Verdict: verification.VerdictPending},
		{ID: uuid.New(), DatabaseID: db.ID, TransactionID: uuid.New(), CustomerPhone: "+46700000002", TransactionAmount: 9900, RewardAmount: 495, TransactionTime: at.Add(time.Hour), Verdict: verification.VerdictVerified},
	}
	return db, records
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"csv", "excel", "json"} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q) unexpected error: %v", in, err)
		}
	}
	for _, in := range []string{"", "xlsx", "CSV", "pdf"} {
		if _, err := ParseFormat(in); err == nil {
			t.Errorf("ParseFormat(%q) expected error", in)
		}
	}
}

func TestRenderCSV(t *testing.T) {
	db, records := sampleDatabase()
	art, err := Render(FormatCSV, db, records)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.HasSuffix(art.Filename, ".csv") {
		t.Errorf("Filename = %q, want .csv suffix", art.Filename)
	}
	rows, err := csv.NewReader(bytes.NewReader(art.Body)).ReadAll()
	if err != nil {
		t.Fatalf("csv parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "record_id" {
		t.Errorf("header[0] = %q", rows[0][0])
	}
	if rows[2][3] != "+46700000002" || rows[2][5] != "495" || rows[2][6] != "verified" {
		t.Errorf("unexpected second row: %v", rows[2])
	}
}

func TestRenderJSON(t *testing.T) {
	db, records := sampleDatabase()
	art, err := Render(FormatJSON, db, records)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if art.ContentType != "application/json" {
		t.Errorf("ContentType = %q", art.ContentType)
	}
	var decoded struct {
		Database struct {
			ID string `json:"id"`
		} `json:"database"`
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(art.Body, &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded.Database.ID != db.ID.String() || len(decoded.Records) != 2 {
		t.Errorf("unexpected json export: %+v", decoded)
	}
}

func TestRenderJSONWithoutRecordsEmitsEmptyArray(t *testing.T) {
	db, _ := sampleDatabase()
	art, err := Render(FormatJSON, db, nil)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !bytes.Contains(art.Body, []byte(`"records": []`)) {
		t.Errorf("expected empty records array, got %s", art.Body)
	}
}

func TestRenderExcel(t *testing.T) {
	db, records := sampleDatabase()
	art, err := Render(FormatExcel, db, records)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.HasSuffix(art.Filename, ".xlsx") {
		t.Errorf("Filename = %q, want .xlsx suffix", art.Filename)
	}
	f, err := excelize.OpenReader(bytes.NewReader(art.Body))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][3] != "+46700000001" {
		t.Errorf("phone cell = %q", rows[1][3])
	}
}
