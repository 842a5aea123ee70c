package inventory

import (
	"context"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/utils"
	"google.golang.org/api/sheets/v4"
)

// sheetAPI is the narrow edge to the spreadsheet backend. Its only
// primitives are bounded whole-range reads, whole-range rewrites and
// single-row appends; there is no row-level mutation and no locking.
type sheetAPI interface {
	FetchRows(ctx context.Context, rangeName string) ([][]interface{}, error)
	OverwriteRows(ctx context.Context, rangeName string, rows [][]interface{}) error
	AppendRow(ctx context.Context, rangeName string, row []interface{}) error
}

// googleSheetAPI implements sheetAPI against the Google Sheets values
// API. Every error is wrapped as transient: the backend is a third-party
// HTTP API prone to rate limits and flaky responses, and the caller's
// retry policy decides when to give up.
type googleSheetAPI struct {
	spreadsheetId string
}

func newGoogleSheetAPI() (*googleSheetAPI, error) {
	spreadsheetId, err := config.GetSheetsSpreadsheetID()
	if err != nil {
		return nil, err
	}
	return &googleSheetAPI{spreadsheetId: spreadsheetId}, nil
}

func (a *googleSheetAPI) FetchRows(ctx context.Context, rangeName string) ([][]interface{}, error) {
	svc, err := config.GetSheetsService(ctx)
	if err != nil {
		return nil, utils.NewTransientError(err)
	}
	resp, err := svc.Spreadsheets.Values.Get(a.spreadsheetId, rangeName).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, utils.NewTransientError(err)
	}
	return resp.Values, nil
}

func (a *googleSheetAPI) OverwriteRows(ctx context.Context, rangeName string, rows [][]interface{}) error {
	svc, err := config.GetSheetsService(ctx)
	if err != nil {
		return utils.NewTransientError(err)
	}
	// Clear then write: shrinking row sets must not leave stale tails.
	_, err = svc.Spreadsheets.Values.Clear(a.spreadsheetId, rangeName, &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return utils.NewTransientError(err)
	}
	if len(rows) == 0 {
		return nil
	}
	_, err = svc.Spreadsheets.Values.Update(a.spreadsheetId, rangeName, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return utils.NewTransientError(err)
	}
	return nil
}

func (a *googleSheetAPI) AppendRow(ctx context.Context, rangeName string, row []interface{}) error {
	svc, err := config.GetSheetsService(ctx)
	if err != nil {
		return utils.NewTransientError(err)
	}
	_, err = svc.Spreadsheets.Values.Append(a.spreadsheetId, rangeName, &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return utils.NewTransientError(err)
	}
	return nil
}
