package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	tgbot "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/logger"
	"github.com/igolaizola/sunobot/pkg/storage"
)

// Telegram rejects longer captions.
const maxCaption = 1024

// Generator is the core used by the bot commands.
type Generator interface {
	Generate(ctx context.Context, prompt string, deliver generator.Deliver) (*generator.Result, error)
	AddCredential(ctx context.Context, content string) (*storage.Credential, error)
	Capacity(ctx context.Context) (int, error)
}

// Sender sends messages to telegram.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

type Config struct {
	Token string
	Proxy string
	// Admin is the chat that receives notifications.
	Admin     int64
	Generator Generator
	Logger    *log.Logger
	Debug     bool
}

type Bot struct {
	api    *tgbot.BotAPI
	sender Sender
	gen    Generator
	admin  int64
	log    *log.Logger
	wg     sync.WaitGroup
}

// New connects to the telegram bot API.
func New(cfg *Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("bot: token is empty")
	}
	client := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("bot: invalid proxy %s: %w", cfg.Proxy, err)
		}
		client.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}
	api, err := tgbot.NewBotAPIWithClient(cfg.Token, client)
	if err != nil {
		return nil, fmt.Errorf("bot: couldn't create telegram client: %w", err)
	}
	api.Debug = cfg.Debug
	b := NewWithSender(api, cfg.Generator, cfg.Admin, cfg.Logger)
	b.api = api
	return b, nil
}

// NewWithSender returns a bot that sends messages with the given sender.
// It can handle messages but it can't receive updates.
func NewWithSender(sender Sender, gen Generator, admin int64, l *log.Logger) *Bot {
	return &Bot{
		sender: sender,
		gen:    gen,
		admin:  admin,
		log:    logger.Or(l),
	}
}

// Run receives updates until the context is done. Each command is handled
// in its own goroutine and Run waits for them before returning.
func (b *Bot) Run(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot: telegram api not configured")
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("bot: couldn't get updates: %w", err)
	}
	defer b.wg.Wait()
	defer b.api.StopReceivingUpdates()

	b.log.Info("bot: started", "user", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot: stopping")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			msg := update.Message
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						b.log.Error("bot: panic handling command", "command", msg.Command(), "panic", r)
						b.reply(msg, msgError)
					}
				}()
				b.Handle(ctx, msg)
			}()
		}
	}
}

// Notify sends a silent message to the admin chat.
func (b *Bot) Notify(ctx context.Context, text string) error {
	if b.admin == 0 {
		return nil
	}
	m := tgbot.NewMessage(b.admin, text)
	m.DisableNotification = true
	if _, err := b.sender.Send(m); err != nil {
		return fmt.Errorf("bot: couldn't notify admin: %w", err)
	}
	return nil
}

func (b *Bot) reply(msg *tgbot.Message, text string) {
	m := tgbot.NewMessage(msg.Chat.ID, text)
	m.ReplyToMessageID = msg.MessageID
	if _, err := b.sender.Send(m); err != nil {
		b.log.Warn("bot: couldn't send message", "chat", msg.Chat.ID, "err", err)
	}
}
