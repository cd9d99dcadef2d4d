package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/config"
)

const (
	telegramChannelName = "telegram"

	// Telegram rejects text over 4096 and captions over 1024 characters.
	telegramMaxText    = 4000
	telegramMaxCaption = 1024
)

// TelegramBot is the subset of the bot API the channel uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type botAPI struct {
	*tgbotapi.BotAPI
}

func (b botAPI) GetSelf() tgbotapi.User { return b.Self }

// BotFactory builds the bot client; tests swap it for a fake.
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

func newBotAPI(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return botAPI{bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	bot        TelegramBot
	botFactory BotFactory
	cancel     context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, newBotAPI)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if factory == nil {
		factory = newBotAPI
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) httpClient() (*http.Client, error) {
	if t.proxy == "" {
		return http.DefaultClient, nil
	}
	proxyURL, err := url.Parse(t.proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}, nil
}

func (t *TelegramChannel) initBot() error {
	client, err := t.httpClient()
	if err != nil {
		return err
	}
	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	logrus.Infof("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message != nil {
					t.handleMessage(update.Message)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logrus.Infof("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		logrus.Warnf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	t.publish(bus.InboundMessage{
		Channel:   telegramChannelName,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
			"message_id": msg.MessageID,
		},
	})
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	logrus.Infof("[telegram] stopped")
	return nil
}

// SetBot injects a bot without going through Start.
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Send delivers text and images. Images go out as photos; the text rides
// along as the caption of the first one when it fits.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	text := msg.Content
	for i, path := range msg.Media {
		caption := ""
		if i == 0 && len([]rune(text)) <= telegramMaxCaption {
			caption, text = text, ""
		}
		if err := t.sendPhoto(chatID, path, caption); err != nil {
			return err
		}
	}
	if text == "" {
		return nil
	}
	return t.sendText(chatID, text)
}

func (t *TelegramChannel) sendPhoto(chatID int64, path, caption string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("telegram photo: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("telegram photo: %s is a directory", path)
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	if _, err := t.bot.Send(photo); err != nil {
		return fmt.Errorf("send telegram photo: %w", err)
	}
	return nil
}

// sendText sends text in chunks. A chunk whose markup is rejected is resent
// as plain text on its own.
func (t *TelegramChannel) sendText(chatID int64, text string) error {
	for _, chunk := range splitText(text, telegramMaxText) {
		out := tgbotapi.NewMessage(chatID, toTelegramHTML(chunk))
		out.ParseMode = tgbotapi.ModeHTML
		if _, err := t.bot.Send(out); err == nil {
			continue
		}
		out.ParseMode = ""
		out.Text = chunk
		if _, err := t.bot.Send(out); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitText cuts s into chunks of at most max bytes, preferring newlines and
// never splitting a rune.
func splitText(s string, max int) []string {
	var chunks []string
	for len(s) > max {
		cut := strings.LastIndex(s[:max], "\n")
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// toTelegramHTML converts the common markdown subset to Telegram HTML.
func toTelegramHTML(s string) string {
	s = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
	s = wrapPairs(s, "```", func(code string) string {
		// a bare word on the first line is a language tag
		if nl := strings.Index(code, "\n"); nl >= 0 {
			if lang := strings.TrimSpace(code[:nl]); lang != "" && !strings.Contains(lang, " ") {
				code = code[nl+1:]
			}
		}
		return "<pre>" + code + "</pre>"
	})
	s = wrapPairs(s, "`", tag("code"))
	s = wrapPairs(s, "**", tag("b"))
	s = wrapPairs(s, "*", tag("i"))
	return s
}

func tag(name string) func(string) string {
	return func(inner string) string { return "<" + name + ">" + inner + "</" + name + ">" }
}

// wrapPairs replaces each delim...delim span, left to right, with render(inner).
// An unmatched delimiter is left as is.
func wrapPairs(s, delim string, render func(string) string) string {
	for {
		start := strings.Index(s, delim)
		if start < 0 {
			return s
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end < 0 {
			return s
		}
		end += start + len(delim)
		s = s[:start] + render(s[start+len(delim):end]) + s[end+len(delim):]
	}
}
