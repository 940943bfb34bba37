// Package notify delivers core events to Telegram chats.
package notify

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"bookflow/internal/config"
	"bookflow/internal/domain"
	"bookflow/internal/events"
)

// NewBot connects to the Bot API.
func NewBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// TelegramNotifier sends booking events to manager chats and payment or
// assignment events to the payee's own chat.
type TelegramNotifier struct {
	bot      domain.TelegramSender
	managers []int64
	payees   map[int64]int64
	logger   *zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, cfg config.TelegramConfig, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:      bot,
		managers: cfg.ManagerChats,
		payees:   cfg.PayeeChats,
		logger:   logger,
	}
}

// Subscribe registers the notifier on the bus.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingSucceeded, n.onBookingSucceeded)
	bus.Subscribe(events.EventBookingAbandoned, n.onBookingAbandoned)
	bus.Subscribe(events.EventServiceStatusChanged, n.onServiceStatusChanged)
	bus.Subscribe(events.EventCancellationRequested, n.onCancellationRequested)
	bus.Subscribe(events.EventPaymentPaid, n.onPaymentPaid)
}

func (n *TelegramNotifier) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return n.bot.Send(msg)
}

func (n *TelegramNotifier) notifyManagers(text string) error {
	var failed int
	for _, chatID := range n.managers {
		if _, err := n.SendMessage(chatID, text); err != nil {
			failed++
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to notify manager")
		}
	}
	if failed > 0 && failed == len(n.managers) {
		return errors.New("no manager chat reachable")
	}
	return nil
}

func (n *TelegramNotifier) notifyPayee(payeeID int64, text string) error {
	chatID, ok := n.payees[payeeID]
	if !ok {
		n.logger.Debug().Int64("payee_id", payeeID).Msg("no chat for payee")
		return nil
	}
	_, err := n.SendMessage(chatID, text)
	return err
}

func (n *TelegramNotifier) onBookingSucceeded(e *events.Event) error {
	var p events.IntentEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}

	var lines []string
	for _, item := range p.LineItems {
		lines = append(lines, fmt.Sprintf("• %s: %s", item.ServiceName, item.ClientFee))
	}
	text := fmt.Sprintf("✅ New booking #%d\n\n👤 Client: %s (%s)\n💰 Total: %s\n\n%s",
		p.IntentID, p.ClientID, p.ClientEmail, p.TotalFee, strings.Join(lines, "\n"))
	if err := n.notifyManagers(text); err != nil {
		return err
	}

	for _, item := range p.LineItems {
		if item.TeamID == 0 {
			continue
		}
		msg := fmt.Sprintf("📌 You were assigned %s for booking #%d (team fee %s)", item.ServiceName, p.IntentID, item.TeamFee)
		if err := n.notifyPayee(item.TeamID, msg); err != nil {
			n.logger.Error().Err(err).Int64("team_id", item.TeamID).Msg("Failed to notify team member")
		}
	}
	return nil
}

func (n *TelegramNotifier) onBookingAbandoned(e *events.Event) error {
	var p events.IntentEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("⏰ Booking #%d was abandoned\n\n👤 Client: %s (%s)\n💰 Total: %s\n🔗 %s",
		p.IntentID, p.ClientID, p.ClientEmail, p.TotalFee, p.CheckoutLink)
	return n.notifyManagers(text)
}

func (n *TelegramNotifier) onServiceStatusChanged(e *events.Event) error {
	var p events.ServiceEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("🔄 %s (booking #%d): %s → %s", p.Name, p.IntentID, p.OldStatus, p.NewStatus)
	return n.notifyPayee(p.TeamID, text)
}

func (n *TelegramNotifier) onCancellationRequested(e *events.Event) error {
	var p events.ServiceEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("❌ Cancellation requested for %s (service #%d, booking #%d)", p.Name, p.BookedServiceID, p.IntentID)
	if p.Reason != "" {
		text += "\n\nReason: " + p.Reason
	}
	return n.notifyManagers(text)
}

func (n *TelegramNotifier) onPaymentPaid(e *events.Event) error {
	var p events.PaymentEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("💸 Payment #%d of %s has been paid\n%s", p.PaymentID, p.Amount, p.Memo)
	return n.notifyPayee(p.PayeeID, text)
}
