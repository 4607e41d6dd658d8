package relay

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"gptrelay/internal/markup"
	"gptrelay/internal/retry"
	"gptrelay/internal/telegram"
)

// rung одна ступень доставки финального текста.
type rung struct {
	stage     string
	edit      bool
	text      string
	parseMode string
}

// deliver отправляет финальный текст. Ступени: форматированный текст той же операцией,
// тот же текст без разметки, новое сообщение без разметки. Каждая ступень
// выполняется один раз, flood control внутри ступени повторяется по политике Retry.
func (r *Relay) deliver(ctx context.Context, s *session, text string) error {
	rich := markup.ToTelegramHTML(text)
	plain := markup.PlainText(text)
	if plain == "" {
		plain = text
	}

	var ladder []rung
	switch {
	case s.streaming:
		if alreadyShown(rich, s.shown) {
			return nil
		}
		ladder = []rung{
			{stage: "final_edit", edit: true, text: rich, parseMode: telegram.ParseModeHTML},
			{stage: "final_edit_plain", edit: true, text: plain, parseMode: telegram.ParseModeNone},
			{stage: "final_new_plain", text: plain, parseMode: telegram.ParseModeNone},
		}
	default:
		if s.degraded {
			s.logger.Info("waiting for flood control cooldown",
				slog.Duration("cooldown", r.cfg.ThrottleCooldown))
			if err := r.sleep(ctx, r.cfg.ThrottleCooldown); err != nil {
				return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
			}
		}
		ladder = []rung{
			{stage: "final_new", text: rich, parseMode: telegram.ParseModeHTML},
			{stage: "final_new_plain", text: plain, parseMode: telegram.ParseModeNone},
		}
	}

	var lastErr error
	for _, step := range ladder {
		err := r.attempt(ctx, s, step)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("final delivery step failed",
			slog.String("stage", step.stage),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			break
		}
	}
	s.logger.Error("final delivery failed",
		slog.String("stage", "deliver"),
		slog.String("error", lastErr.Error()))
	return fmt.Errorf("%w: %w", ErrDeliveryFailed, lastErr)
}

func (r *Relay) attempt(ctx context.Context, s *session, step rung) error {
	policy := r.cfg.Retry
	policy.Sleep = r.sleep

	id, err := retry.Do(ctx, policy, s.logger, func(ctx context.Context) (int64, error) {
		if step.edit {
			return s.messageID, r.channel.EditMessage(ctx, s.chatID, s.messageID, step.text, step.parseMode)
		}
		return r.channel.SendMessage(ctx, s.chatID, step.text, step.parseMode)
	})
	if err != nil {
		return err
	}
	if step.edit {
		s.edits++
	}
	s.messageID = id
	s.shown = step.text
	return nil
}

// alreadyShown сообщает, что заглушка уже показывает финальный текст без разметки.
// Повторное редактирование тем же текстом Telegram отклоняет.
func alreadyShown(rich, shown string) bool {
	if strings.Contains(rich, "<") {
		return false
	}
	return html.UnescapeString(rich) == strings.TrimSpace(shown)
}
