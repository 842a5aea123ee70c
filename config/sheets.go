package config

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var (
	sheetsService   *sheets.Service
	sheetsServiceMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// GetSheetsService returns a lazily initialized Google Sheets client.
// It uses Application Default Credentials unless SHEETS_CREDENTIALS_JSON is provided.
func GetSheetsService(ctx context.Context) (*sheets.Service, error) {
	sheetsServiceMu.Lock()
	defer sheetsServiceMu.Unlock()
	if sheetsService != nil {
		return sheetsService, nil
	}

	credJSON := os.Getenv("SHEETS_CREDENTIALS_JSON")

	var (
		svc *sheets.Service
		err error
	)
	if credJSON != "" {
		svc, err = sheets.NewService(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Uses Application Default Credentials (service account or GOOGLE_APPLICATION_CREDENTIALS).
		svc, err = sheets.NewService(ctx)
	}
	if err != nil {
		return nil, err
	}
	sheetsService = svc
	return sheetsService, nil
}

// GetSheetsSpreadsheetID returns the spreadsheet backing the reservation
// store when the service runs in sheet mode.
func GetSheetsSpreadsheetID() (string, error) {
	id := os.Getenv("SHEETS_SPREADSHEET_ID")
	if id == "" {
		return "", errors.New("SHEETS_SPREADSHEET_ID not set")
	}
	return id, nil
}
