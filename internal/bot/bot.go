package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/models"
	"github.com/xaenox/prospect-bot/internal/prospect"
	"github.com/xaenox/prospect-bot/internal/tasks"
	"github.com/xaenox/prospect-bot/internal/traits"
)

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Deps struct {
	Traits    *traits.Service
	AutoReset *autoreset.Service
	Analyzer  *prospect.Analyzer
	Tasks     *tasks.Service
}

// Bot is the owner's Telegram console. It only talks to the owner chat.
type Bot struct {
	api         *tgbotapi.BotAPI
	sender      Sender
	ownerChatID int64
	deps        Deps
	logger      *zap.Logger
}

func New(token string, ownerChatID int64, deps Deps, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := NewWithSender(api, ownerChatID, deps, logger)
	b.api = api
	return b, nil
}

// NewWithSender builds a bot that cannot poll for updates, only send.
func NewWithSender(sender Sender, ownerChatID int64, deps Deps, logger *zap.Logger) *Bot {
	return &Bot{
		sender:      sender,
		ownerChatID: ownerChatID,
		deps:        deps,
		logger:      logger,
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("bot has no Telegram API client")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.HandleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil || message.Chat.ID != b.ownerChatID {
		b.logger.Warn("Ignoring message from unknown chat",
			zap.Int64("chat_id", chatID(message)))
		return
	}

	if !message.IsCommand() {
		b.sendMessage(message.Chat.ID, "I only understand commands. Use /help to see them.")
		return
	}

	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "stats":
		b.handleStats(ctx, message)
	case "reset":
		b.handleReset(ctx, message)
	case "resethours":
		b.handleResetHours(ctx, message)
	case "traits":
		b.handleTraits(ctx, message)
	case "pending":
		b.handlePending(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

// NotifyQualified tells the owner a prospect now meets every enabled trait.
func (b *Bot) NotifyQualified(ctx context.Context, analysis models.ProspectAnalysis) error {
	name := analysis.DisplayName
	if name == "" {
		name = analysis.ProspectID
	}

	text := fmt.Sprintf("*Qualified prospect:* %s\n*Points:* %d\n", escapeMarkdown(name), analysis.MatchPoints)
	for _, trait := range analysis.MetTraits {
		text += "✅ " + escapeMarkdown(trait) + "\n"
	}

	msg := tgbotapi.NewMessage(b.ownerChatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to notify owner: %w", err)
	}
	return nil
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to ProspectBot! 🎯
I score your Instagram conversations against your ideal customer traits
and tell you when a prospect matches all of them.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/stats [hours] - Count prospects an AutoReset would clear
/reset - Run AutoReset now with the configured threshold
/resethours [1-168] - Show or set the AutoReset threshold
/traits - Show your ideal customer traits
/pending - Show prospects waiting for your reply`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	hours, err := b.argHours(ctx, message)
	if err != nil {
		b.sendServiceError(message.Chat.ID, err)
		return
	}

	stats, err := b.deps.AutoReset.Stats(ctx, hours)
	if err != nil {
		b.sendServiceError(message.Chat.ID, err)
		return
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf(
		"%d prospects have been inactive for more than %d hours (since %s UTC).",
		stats.InactiveCount, stats.ThresholdHours, stats.CutoffTime.Format("2006-01-02 15:04")))
}

func (b *Bot) handleReset(ctx context.Context, message *tgbotapi.Message) {
	n, err := b.deps.AutoReset.SweepConfigured(ctx)
	if err != nil {
		b.logger.Error("Manual AutoReset failed", zap.Error(err), zap.Int("reset", n))
		b.sendServiceError(message.Chat.ID, err)
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("AutoReset done: %d prospects reset.", n))
}

func (b *Bot) handleResetHours(ctx context.Context, message *tgbotapi.Message) {
	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		hours, err := b.deps.AutoReset.ResetHours(ctx)
		if err != nil {
			b.sendServiceError(message.Chat.ID, err)
			return
		}
		b.sendMessage(message.Chat.ID, fmt.Sprintf("AutoReset threshold: %d hours.", hours))
		return
	}

	hours, err := strconv.Atoi(arg)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Reset hours must be a whole number between 1 and 168.")
		return
	}
	if err := b.deps.AutoReset.UpdateResetHours(ctx, hours); err != nil {
		b.sendServiceError(message.Chat.ID, err)
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("AutoReset threshold set to %d hours.", hours))
}

func (b *Bot) handleTraits(ctx context.Context, message *tgbotapi.Message) {
	list, err := b.deps.Traits.Load(ctx)
	if err != nil {
		b.logger.Error("Failed to load traits", zap.Error(err))
		b.sendServiceError(message.Chat.ID, err)
		return
	}

	response := "*Your ideal customer traits:*\n"
	for _, trait := range list {
		mark := "✅"
		if !trait.Enabled {
			mark = "⏸"
		}
		response += mark + " " + escapeMarkdown(trait.Name) + "\n"
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	b.send(msg)
}

func (b *Bot) handlePending(ctx context.Context, message *tgbotapi.Message) {
	pending, err := b.deps.Tasks.Pending(ctx, models.TaskPendingReply)
	if err != nil {
		b.sendServiceError(message.Chat.ID, err)
		return
	}
	if len(pending) == 0 {
		b.sendMessage(message.Chat.ID, "Nobody is waiting for your reply.")
		return
	}

	enabled, err := b.deps.Traits.LoadEnabled(ctx)
	if err != nil {
		b.sendServiceError(message.Chat.ID, err)
		return
	}

	response := "*Waiting for your reply:*\n"
	for _, task := range pending {
		line := escapeMarkdown(task.ProspectID)
		if analysis, err := b.deps.Analyzer.Get(ctx, task.ProspectID, enabled); err == nil {
			if analysis.DisplayName != "" {
				line = escapeMarkdown(analysis.DisplayName)
			}
			line += escapeMarkdown(fmt.Sprintf(" (%d/%d)", analysis.MatchPoints, len(enabled)))
		}
		response += "• " + line + "\n"
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	b.send(msg)
}

// argHours parses the optional hours argument, defaulting to the configured value.
func (b *Bot) argHours(ctx context.Context, message *tgbotapi.Message) (int, error) {
	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		return b.deps.AutoReset.ResetHours(ctx)
	}
	hours, err := strconv.Atoi(arg)
	if err != nil {
		return 0, &models.ConfigError{Field: "hours", Reason: "must be a whole number"}
	}
	return hours, nil
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func chatID(message *tgbotapi.Message) int64 {
	if message.Chat == nil {
		return 0
	}
	return message.Chat.ID
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, "⚠️ "+text))
}

func (b *Bot) sendServiceError(chatID int64, err error) {
	if errors.Is(err, models.ErrInvalidConfig) {
		b.sendErrorMessage(chatID, err.Error())
		return
	}
	b.sendErrorMessage(chatID, "The database is unavailable right now. Please try again later.")
}
