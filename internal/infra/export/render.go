// internal/infra/export/render.go
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"reward_verification_service/internal/domain/verification"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Verification"

var columns = []string{
	"record_id",
	"transaction_id",
	"transaction_time",
	"customer_phone",
	"transaction_amount",
	"reward_amount",
	"verdict",
}

// Artifact is a rendered file ready to be streamed to the client.
type Artifact struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Render produces the verification database in the requested format.
func Render(format Format, db *verification.Database, records []*verification.Record) (*Artifact, error) {
	var (
		body []byte
		err  error
	)
	switch format {
	case FormatCSV:
		body, err = renderCSV(records)
	case FormatExcel:
		body, err = renderExcel(records)
	case FormatJSON:
		body, err = renderJSON(db, records)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    fmt.Sprintf("verification-%s.%s", db.ID, format.Extension()),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func recordRow(r *verification.Record) []string {
	return []string{
		r.ID.String(),
		r.TransactionID.String(),
		r.TransactionTime.UTC().Format(time.RFC3339),
		r.CustomerPhone,
		strconv.FormatInt(r.TransactionAmount, 10),
		strconv.FormatInt(r.RewardAmount, 10),
		string(r.Verdict),
	}
}

func renderCSV(records []*verification.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(recordRow(r)); err != nil {
			return nil, fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderExcel(records []*verification.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{
			r.ID.String(),
			r.TransactionID.String(),
			r.TransactionTime.UTC().Format(time.RFC3339),
			r.CustomerPhone,
			r.TransactionAmount,
			r.RewardAmount,
			string(r.Verdict),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type jsonExport struct {
	Database *verification.Database `json:"database"`
	Records  []*verification.Record `json:"records"`
}

func renderJSON(db *verification.Database, records []*verification.Record) ([]byte, error) {
	if records == nil {
		records = []*verification.Record{}
	}
	body, err := json.MarshalIndent(jsonExport{Database: db, Records: records}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json export: %w", err)
	}
	return body, nil
}
