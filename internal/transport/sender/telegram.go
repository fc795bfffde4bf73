package sender

import (
	"context"
	"fmt"
	"strconv"

	"eventdelivery/internal/entity"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/wb-go/wbf/logger"
)

// TelegramSender is the chat channel adapter.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
	log logger.Logger
}

func NewTelegramSender(botToken string, log logger.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.LogAttrs(context.Background(), logger.InfoLevel, "telegram sender initialized",
		logger.String("bot_username", bot.Self.UserName),
	)

	return &TelegramSender{
		bot: bot,
		log: log,
	}, nil
}

func (s *TelegramSender) Send(ctx context.Context, contact string, n entity.NotificationPayload) entity.ChannelResult {
	chatID, err := strconv.ParseInt(contact, 10, 64)
	if err != nil {
		return failureResult(fmt.Errorf("invalid telegram chat_id '%s': %w", contact, err))
	}

	text := n.Message
	if n.ActionURL != "" {
		text = fmt.Sprintf("%s\n\n%s", text, n.ActionURL)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"

	s.log.LogAttrs(ctx, logger.DebugLevel, "sending telegram message",
		logger.Int64("chat_id", chatID),
		logger.String("type", n.Type),
	)

	sent, err := s.bot.Send(msg)
	if err != nil {
		return failureResult(fmt.Errorf("failed to send telegram message: %w", err))
	}

	s.log.LogAttrs(ctx, logger.InfoLevel, "telegram message sent",
		logger.Int64("chat_id", chatID),
		logger.String("type", n.Type),
	)

	return successResult(strconv.Itoa(sent.MessageID), 0)
}
