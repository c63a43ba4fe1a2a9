// Package google implements the mirror interfaces on Google Sheets and
// Google Drive using a service account.
package google

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Appended rows are stored as typed so free-text reasons never become
// formulas, dates or numbers. Single-cell updates are parsed like UI input.
const (
	appendInputOption = "RAW"
	updateInputOption = "USER_ENTERED"
)

// valuesAPI abstracts the Sheets values endpoints we use, enabling test mocks.
type valuesAPI interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
}

// realValues wraps *sheets.Service to implement valuesAPI.
type realValues struct {
	svc *sheets.Service
}

func (r *realValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	_, err := r.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption(appendInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (r *realValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := r.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (r *realValues) Update(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	_, err := r.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption(updateInputOption).
		Context(ctx).
		Do()
	return err
}

// Sheet implements mirror.Sheet on one tab of a Google spreadsheet.
type Sheet struct {
	values        valuesAPI
	spreadsheetID string
	sheetName     string
}

// SheetOpts holds parameters for creating a Sheet.
type SheetOpts struct {
	CredentialsFile string
	SpreadsheetID   string
	SheetName       string
	// ClientOptions are appended to the credentials option (endpoint overrides).
	ClientOptions []option.ClientOption
	// For testing: inject a mock values API instead of real Sheets.
	Values valuesAPI
}

// NewSheet creates a Sheet backed by the Sheets API.
func NewSheet(ctx context.Context, opts SheetOpts) (*Sheet, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("google: sheet: spreadsheet id is required")
	}
	if opts.SheetName == "" {
		opts.SheetName = "Sheet1"
	}

	values := opts.Values
	if values == nil {
		if opts.CredentialsFile == "" {
			return nil, fmt.Errorf("google: sheet: credentials file is required")
		}
		auth, err := serviceAccountOption(ctx, opts.CredentialsFile, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("google: sheet: %w", err)
		}
		clientOpts := append([]option.ClientOption{auth}, opts.ClientOptions...)
		svc, err := sheets.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("google: sheet: create service: %w", err)
		}
		values = &realValues{svc: svc}
	}

	return &Sheet{
		values:        values,
		spreadsheetID: opts.SpreadsheetID,
		sheetName:     opts.SheetName,
	}, nil
}

// AppendRow adds a row after the last non-empty row of the tab.
func (s *Sheet) AppendRow(ctx context.Context, values []string) error {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := s.values.Append(ctx, s.spreadsheetID, s.rangeOf("A1"), [][]interface{}{row}); err != nil {
		return fmt.Errorf("google: sheet: append row: %w", err)
	}
	return nil
}

// FindRowByRecordID returns the first row whose column A equals id.
func (s *Sheet) FindRowByRecordID(ctx context.Context, id uint) (int, bool, error) {
	rows, err := s.values.Get(ctx, s.spreadsheetID, s.rangeOf("A:A"))
	if err != nil {
		return 0, false, fmt.Errorf("google: sheet: read id column: %w", err)
	}
	want := strconv.FormatUint(uint64(id), 10)
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == want {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// UpdateCell writes value into the cell at (row, col), both 1-based.
func (s *Sheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("google: sheet: invalid cell (%d,%d)", row, col)
	}
	cell := fmt.Sprintf("%s%d", columnLetter(col), row)
	if err := s.values.Update(ctx, s.spreadsheetID, s.rangeOf(cell), [][]interface{}{{value}}); err != nil {
		return fmt.Errorf("google: sheet: update %s: %w", cell, err)
	}
	return nil
}

// rangeOf qualifies an A1 range with the quoted tab name.
func (s *Sheet) rangeOf(a1 string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.sheetName, "'", "''"), a1)
}

// columnLetter converts a 1-based column index to A1 letters (1 → A, 27 → AA).
func columnLetter(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}
