package ledger

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"telegram-receipt-bot/internal/model"
)

// Sheets appends transaction rows to one worksheet of a Google
// spreadsheet through a service account.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheets(ctx context.Context, spreadsheetID, sheetName, credentialsFile string) (*Sheets, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	s := &Sheets{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}
	if err := s.ensureSheet(ctx); err != nil {
		return nil, err
	}
	if err := s.ensureHeader(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSheet creates the worksheet when the spreadsheet does not have
// it yet.
func (s *Sheets) ensureSheet(ctx context.Context) error {
	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading spreadsheet metadata: %w", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheetName {
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: s.sheetName},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("adding worksheet %q: %w", s.sheetName, err)
	}
	return nil
}

// ensureHeader rewrites the header row when it is missing or shorter
// than the current column set.
func (s *Sheets) ensureHeader(ctx context.Context) error {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, s.rangeRef("1:1")).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading header row: %w", err)
	}

	if len(resp.Values) > 0 && len(resp.Values[0]) >= len(Header) {
		return nil
	}

	row := make([]interface{}, len(Header))
	for i, h := range Header {
		row[i] = h
	}
	_, err = s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, s.rangeRef("1:1"), &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing header row: %w", err)
	}
	return nil
}

func (s *Sheets) Append(ctx context.Context, t model.Transaction) (int64, error) {
	// Read-then-append id allocation: racy under concurrent writers,
	// accepted per the ledger contract.
	ids, err := s.idColumn(ctx)
	if err != nil {
		return 0, err
	}
	t.ID = nextID(ids)

	_, err = s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, s.rangeRef("A:P"), &sheets.ValueRange{Values: [][]interface{}{toRow(t)}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("appending row: %w", err)
	}
	return t.ID, nil
}

func (s *Sheets) All(ctx context.Context) ([]model.Transaction, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, s.rangeRef("A2:P")).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	out := make([]model.Transaction, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		out = append(out, fromRow(row))
	}
	return out, nil
}

// idColumn reads the id cells below the header.
func (s *Sheets) idColumn(ctx context.Context) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.
		Get(s.spreadsheetID, s.rangeRef("A2:A")).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading id column: %w", err)
	}

	ids := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) > 0 {
			if v, ok := row[0].(string); ok {
				ids = append(ids, v)
			}
		}
	}
	return ids, nil
}

func (s *Sheets) rangeRef(cells string) string {
	name := s.sheetName
	if strings.ContainsAny(name, " !") {
		name = "'" + name + "'"
	}
	return name + "!" + cells
}
