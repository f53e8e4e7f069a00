package bot

import (
	"context"
	"errors"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/igolaizola/sunobot/pkg/generator"
)

const (
	msgStart             = "Hello, this is a suno bot. Use /sing <prompt> to create a song."
	msgSinging           = "Singing..."
	msgInvalidPrompt     = "Prompt is invalid"
	msgNoCredential      = "Idle cookie is not available"
	msgQuotaExhausted    = "Cookie is running out of usage."
	msgNotDownloaded     = "Song couldn't be downloaded"
	msgError             = "Error occurred"
	msgInvalidCredential = "Cookie is invalid"
	msgCredentialExists  = "Cookie already exists"
	msgCredentialSaved   = "Cookie saved"
	msgUnknownCommand    = "Unknown command"
)

// Handle runs the command of the message.
func (b *Bot) Handle(ctx context.Context, msg *tgbot.Message) {
	cmd := msg.Command()
	b.log.Debug("bot: command received", "command", cmd, "chat", msg.Chat.ID)
	switch cmd {
	case "start":
		b.reply(msg, msgStart)
	case "sing":
		b.sing(ctx, msg)
	case "cookie":
		b.cookie(ctx, msg)
	case "count":
		b.count(ctx, msg)
	default:
		b.reply(msg, msgUnknownCommand)
	}
}

func (b *Bot) sing(ctx context.Context, msg *tgbot.Message) {
	prompt, err := generator.ValidatePrompt(msg.CommandArguments())
	if err != nil {
		b.reply(msg, msgInvalidPrompt)
		return
	}
	b.reply(msg, msgSinging)

	deliver := func(ctx context.Context, a *generator.Artifact) error {
		action := tgbot.NewChatAction(msg.Chat.ID, tgbot.ChatUploadAudio)
		if _, err := b.sender.Send(action); err != nil {
			b.log.Debug("bot: couldn't send chat action", "err", err)
		}
		audio := tgbot.NewAudioUpload(msg.Chat.ID, a.Path)
		audio.Title = a.Name
		audio.Duration = int(a.Duration)
		audio.Caption = caption(a.Lyric)
		audio.ReplyToMessageID = msg.MessageID
		if _, err := b.sender.Send(audio); err != nil {
			return fmt.Errorf("bot: couldn't send audio: %w", err)
		}
		return nil
	}

	res, err := b.gen.Generate(ctx, prompt, deliver)
	if err != nil {
		b.log.Warn("bot: couldn't generate song", "chat", msg.Chat.ID, "err", err)
		b.reply(msg, singError(err))
		return
	}
	if res.Delivered == 0 {
		b.reply(msg, msgError)
	}
}

func singError(err error) string {
	switch {
	case errors.Is(err, generator.ErrInvalidPrompt):
		return msgInvalidPrompt
	case errors.Is(err, generator.ErrNoCredential):
		return msgNoCredential
	case errors.Is(err, generator.ErrQuotaExhausted):
		return msgQuotaExhausted
	case errors.Is(err, generator.ErrDownloadExhausted):
		return msgNotDownloaded
	default:
		return msgError
	}
}

func (b *Bot) cookie(ctx context.Context, msg *tgbot.Message) {
	_, err := b.gen.AddCredential(ctx, msg.CommandArguments())
	switch {
	case errors.Is(err, generator.ErrInvalidCredential):
		b.reply(msg, msgInvalidCredential)
	case errors.Is(err, generator.ErrCredentialExists):
		b.reply(msg, msgCredentialExists)
	case err != nil:
		b.log.Error("bot: couldn't add credential", "err", err)
		b.reply(msg, msgError)
	default:
		b.reply(msg, msgCredentialSaved)
	}
}

func (b *Bot) count(ctx context.Context, msg *tgbot.Message) {
	n, err := b.gen.Capacity(ctx)
	if err != nil {
		b.log.Error("bot: couldn't get capacity", "err", err)
		b.reply(msg, msgError)
		return
	}
	b.reply(msg, countMessage(n))
}

func countMessage(n int) string {
	suffix := ""
	if n > 1 {
		suffix = "s"
	}
	return fmt.Sprintf("Currently you can create at most %d song%s.", n, suffix)
}

func caption(lyric string) string {
	r := []rune(lyric)
	if len(r) <= maxCaption {
		return lyric
	}
	return string(r[:maxCaption-3]) + "..."
}
