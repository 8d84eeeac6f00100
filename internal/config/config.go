package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken        string
	Extractor       string // "gemini" or "pattern"
	GeminiAPIKey    string
	GeminiModel     string
	TesseractLangs  string
	Ledger          string // "sheets" or "memory"
	SpreadsheetID   string
	CredentialsFile string
	SheetName       string
	DefaultCurrency string
	LogLevel        string
	Workers         int
}

func LoadConfig() (*Config, error) {
	// A .env file is optional, real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		Extractor:       getEnv("EXTRACTOR", "gemini"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		TesseractLangs:  getEnv("TESSERACT_LANGS", "eng"),
		Ledger:          getEnv("LEDGER", "sheets"),
		SpreadsheetID:   os.Getenv("SPREADSHEET_ID"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		SheetName:       getEnv("SHEET_NAME", "Receipts"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "USD"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Workers:         4,
	}

	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid WORKERS value %q", v)
		}
		cfg.Workers = n
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	switch cfg.Extractor {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini extractor")
		}
	case "pattern":
	default:
		return nil, fmt.Errorf("unknown EXTRACTOR %q", cfg.Extractor)
	}
	switch cfg.Ledger {
	case "sheets":
		if cfg.SpreadsheetID == "" {
			return nil, fmt.Errorf("SPREADSHEET_ID is required for the sheets ledger")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown LEDGER %q", cfg.Ledger)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
