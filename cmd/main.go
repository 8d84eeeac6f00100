package main

import (
	"context"
	"log"
	"time"

	"gopkg.in/telebot.v3"

	"telegram-receipt-bot/internal/bot"
	"telegram-receipt-bot/internal/config"
	"telegram-receipt-bot/internal/extract"
	"telegram-receipt-bot/internal/flow"
	"telegram-receipt-bot/internal/ledger"
	"telegram-receipt-bot/internal/logger"
	"telegram-receipt-bot/internal/query"
	"telegram-receipt-bot/internal/session"
	"telegram-receipt-bot/internal/tasks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("error loading configuration: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	ctx := context.Background()

	var ledgerInstance ledger.Ledger
	switch cfg.Ledger {
	case "sheets":
		ledgerInstance, err = ledger.NewSheets(ctx, cfg.SpreadsheetID, cfg.SheetName, cfg.CredentialsFile)
		if err != nil {
			appLogger.Fatalf("unable to connect to the spreadsheet: %v", err)
		}
	case "memory":
		appLogger.Warn("using in-memory ledger, records are lost on restart")
		ledgerInstance = ledger.NewMemory()
	}

	var extractor extract.Extractor
	switch cfg.Extractor {
	case "gemini":
		gemini, err := extract.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.DefaultCurrency, appLogger)
		if err != nil {
			appLogger.Fatalf("error creating gemini extractor: %v", err)
		}
		defer gemini.Close()
		extractor = gemini
	case "pattern":
		extractor = extract.NewPattern(extract.NewTesseract(cfg.TesseractLangs), cfg.DefaultCurrency, appLogger)
	}

	botSettings := telebot.Settings{
		Token:  cfg.BotToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	}
	botAPI, err := telebot.NewBot(botSettings)
	if err != nil {
		appLogger.Fatalf("error creating bot instance: %v", err)
	}

	pool := tasks.NewPool(cfg.Workers, cfg.Workers*4)
	defer pool.Stop()

	messenger := bot.NewMessenger(botAPI)
	notify := func(userID int64, r flow.Reply) {
		if err := messenger.Deliver(userID, r); err != nil {
			appLogger.WithField("userId", userID).WithError(err).Error("error delivering async reply")
		}
	}

	machine := flow.NewMachine(
		session.NewStore(),
		extractor,
		ledgerInstance,
		pool,
		notify,
		cfg.DefaultCurrency,
		appLogger,
	)
	engine := query.NewEngine(ledgerInstance)

	bot.RegisterHandlers(botAPI, messenger, machine, engine, appLogger)
	appLogger.Info("bot start")
	botAPI.Start()
}
