package chat

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nerrad567/vigil-core/internal/infrastructure/config"
)

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the Telegram bot transport.
type Client struct {
	bot    *tgbotapi.BotAPI
	cfg    config.ChatConfig
	logger Logger
}

// New connects to the bot API and verifies the token.
func New(cfg config.ChatConfig) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connecting to bot API: %w", err)
	}
	return &Client{bot: bot, cfg: cfg, logger: noopLogger{}}, nil
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		c.logger = noopLogger{}
		return
	}
	c.logger = l
}

// Username returns the bot's username, used in invite deep links.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// SendText delivers plain text to an operator.
func (c *Client) SendText(operatorID, text string) error {
	chatID, err := parseChatID(operatorID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// SendKeyboard delivers text with an inline keyboard. Each row of
// buttons becomes one keyboard row; taps come back as Callbacks
// carrying the button's Data.
func (c *Client) SendKeyboard(operatorID, text string, rows ...[]Button) error {
	chatID, err := parseChatID(operatorID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = buildKeyboard(rows)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// SendPhoto delivers an in-memory PNG with a caption. Used for invite
// QR codes.
func (c *Client) SendPhoto(operatorID, caption string, png []byte) error {
	chatID, err := parseChatID(operatorID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "invite.png",
		Bytes: png,
	})
	photo.Caption = caption
	if _, err := c.bot.Send(photo); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// AckCallback acknowledges an inline keyboard tap so the client's UI
// stops spinning. Best effort.
func (c *Client) AckCallback(callbackID string) {
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		c.logger.Debug("callback ack failed", "error", err)
	}
}

// Updates long-polls the bot API and emits translated updates until ctx
// is cancelled. Non-message, non-callback updates are dropped.
func (c *Client) Updates(ctx context.Context) <-chan Update {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.cfg.PollTimeout

	raw := c.bot.GetUpdatesChan(u)
	out := make(chan Update)

	go func() {
		defer close(out)
		defer c.bot.StopReceivingUpdates()

		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-raw:
				if !ok {
					return
				}
				translated, ok := translate(upd)
				if !ok {
					continue
				}
				select {
				case out <- translated:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// translate converts a bot API update into the transport-neutral form.
func translate(upd tgbotapi.Update) (Update, bool) {
	switch {
	case upd.Message != nil && upd.Message.Text != "":
		return Update{Message: &Message{
			OperatorID:  strconv.FormatInt(upd.Message.Chat.ID, 10),
			DisplayName: displayName(upd.Message.From),
			Text:        upd.Message.Text,
		}}, true

	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		return Update{Callback: &Callback{
			ID:          upd.CallbackQuery.ID,
			OperatorID:  strconv.FormatInt(upd.CallbackQuery.Message.Chat.ID, 10),
			DisplayName: displayName(upd.CallbackQuery.From),
			Data:        upd.CallbackQuery.Data,
		}}, true
	}
	return Update{}, false
}

// displayName builds a human-readable name from a chat user.
func displayName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	if name == "" {
		name = user.UserName
	}
	return name
}

// parseChatID converts an operator ID back to a chat ID.
func parseChatID(operatorID string) (int64, error) {
	id, err := strconv.ParseInt(operatorID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecipient, operatorID)
	}
	return id, nil
}

// buildKeyboard converts button rows to the bot API keyboard type.
func buildKeyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		kbRow := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			kbRow = append(kbRow, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		kbRows = append(kbRows, kbRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kbRows...)
}
