package bot

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"telegram-receipt-bot/internal/flow"
	"telegram-receipt-bot/internal/query"
)

func RegisterHandlers(b *telebot.Bot, messenger *Messenger, machine *flow.Machine, engine *query.Engine, log *logrus.Logger) {
	msgHandler := newMessageHandler(b, messenger, machine, engine, log)
	cbHandler := newCallbackHandler(b, messenger, machine, log)

	b.Handle("/start", func(ctx telebot.Context) error {
		err := msgHandler.handleStart(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /start")
		}
		return nil
	})

	b.Handle("/help", func(ctx telebot.Context) error {
		err := msgHandler.handleHelp(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /help")
		}
		return nil
	})

	b.Handle("/add", func(ctx telebot.Context) error {
		err := msgHandler.handleAdd(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /add")
		}
		return nil
	})

	b.Handle("/cancel", func(ctx telebot.Context) error {
		err := msgHandler.handleCancel(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /cancel")
		}
		return nil
	})

	b.Handle("/search", func(ctx telebot.Context) error {
		err := msgHandler.handleSearch(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /search")
		}
		return nil
	})

	b.Handle("/total", func(ctx telebot.Context) error {
		err := msgHandler.handleTotal(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /total")
		}
		return nil
	})

	b.Handle("/list", func(ctx telebot.Context) error {
		err := msgHandler.handleList(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /list")
		}
		return nil
	})

	b.Handle("/stats", func(ctx telebot.Context) error {
		err := msgHandler.handleStats(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling /stats")
		}
		return nil
	})

	b.Handle(telebot.OnPhoto, func(ctx telebot.Context) error {
		err := msgHandler.handlePhoto(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling photo")
		}
		return nil
	})

	b.Handle(telebot.OnText, func(ctx telebot.Context) error {
		err := msgHandler.handleOnText(ctx.Message())
		if err != nil {
			log.WithField("userId", ctx.Message().Sender.ID).WithError(err).Error("error handling text")
		}
		return nil
	})

	b.Handle(telebot.OnCallback, func(ctx telebot.Context) error {
		err := cbHandler.handleCallback(ctx.Callback())
		if err != nil {
			log.WithField("userId", ctx.Callback().Sender.ID).WithError(err).Error("error handling callback")
		}
		return nil
	})
}
