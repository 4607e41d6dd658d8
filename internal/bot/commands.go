package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gptrelay/internal/analytics"
	"gptrelay/internal/markup"
	"gptrelay/internal/telegram"
)

const (
	welcomeTemplate = "Hi! I'm ChatGPT bot 🤖\n🎤 You can send Voice Messages instead of text\n🦄 Current model: %s"
	newDialogText   = "🆕 Starting new dialog ✅"
	helpTemplate    = "🔧 **Need help or found a bug?**\n\nIf something isn't working properly or you have questions, feel free to contact our support: %s\n\nWe'll be happy to help! 🤝"
)

// handleCommand выполняет известную команду. Неизвестные команды
// обрабатываются как обычный текст, поэтому для них возвращается false.
func (h *Handler) handleCommand(ctx context.Context, msg *telegram.Message) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(msg.Text), " ")
	// /start@my_bot в группах
	cmd, _, _ = strings.Cut(cmd, "@")

	userID := msg.From.ID
	switch cmd {
	case "/start":
		h.deps.Analytics.Record(userID, analytics.EventBotStart, map[string]any{
			"username":   msg.From.Username,
			"first_name": msg.From.FirstName,
		})
		h.reply(ctx, msg.Chat.ID, fmt.Sprintf(welcomeTemplate, h.deps.Model), telegram.ParseModeNone)
	case "/new":
		h.deps.Store.Reset(userID)
		h.logger.Info("context reset", slog.Int64("user_id", userID))
		h.deps.Analytics.Record(userID, analytics.EventNewConversation, map[string]any{
			"username": msg.From.Username,
		})
		h.reply(ctx, msg.Chat.ID, newDialogText, telegram.ParseModeNone)
	case "/help":
		h.deps.Analytics.Record(userID, analytics.EventHelp, map[string]any{
			"username": msg.From.Username,
		})
		h.reply(ctx, msg.Chat.ID, markup.ToTelegramHTML(fmt.Sprintf(helpTemplate, h.deps.SupportBot)), telegram.ParseModeHTML)
	default:
		return false
	}
	return true
}
