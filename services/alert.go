package services

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Alerter pushes operational notices (batch summaries, dispatch failures) to
// whoever runs the system. Optional everywhere it is accepted.
type Alerter interface {
	BatchSummary(report *ImportReport)
	DispatchFailed(orderID int64, err error)
}

// TelegramAlerter sends operational notices to an admin chat.
type TelegramAlerter struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

func NewTelegramAlerter(token string, chatID int64, log zerolog.Logger) (*TelegramAlerter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("alert bot: %w", err)
	}
	return &TelegramAlerter{api: api, chatID: chatID, log: log}, nil
}

func (a *TelegramAlerter) BatchSummary(report *ImportReport) {
	text := fmt.Sprintf("Import (%s): %d created, %d failed", report.Variant, report.Created, len(report.Errors))
	for _, e := range report.Errors {
		text += fmt.Sprintf("\n  row %d: %s", e.Index, e.Reason)
	}
	a.send(text)
}

func (a *TelegramAlerter) DispatchFailed(orderID int64, err error) {
	a.send(fmt.Sprintf("Dispatch failed for order %d: %v", orderID, err))
}

func (a *TelegramAlerter) send(text string) {
	if _, err := a.api.Send(tgbotapi.NewMessage(a.chatID, text)); err != nil {
		a.log.Warn().Err(err).Msg("alert send failed")
	}
}
