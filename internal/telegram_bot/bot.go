package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"crisis-engine/internal/config"
	"crisis-engine/internal/events"
	"crisis-engine/internal/models"
	"crisis-engine/internal/review"
)

// Reviews is the part of the engine the bot drives.
type Reviews interface {
	RequestHumanReview(ctx context.Context, assessmentID string, reviewer *string) (*models.HumanReviewRecord, error)
	RecordVerdict(ctx context.Context, recordID string, verdict models.Verdict, actual *models.RiskLevel, notes, reviewer *string) (*models.HumanReviewRecord, error)
	PendingReviews(ctx context.Context) ([]models.HumanReviewRecord, error)
}

// sender is satisfied by *tgbotapi.BotAPI.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot pages reviewers about high-risk subjects and lets them record a
// verdict straight from the message.
type Bot struct {
	api     *tgbotapi.BotAPI
	out     sender
	reviews Reviews
	sub     *events.Subscription
	chatIDs []int64
	allowed map[int64]bool
	logger  *zap.Logger
}

// NewBot creates a new Telegram bot instance. It returns nil when paging
// is disabled.
func NewBot(cfg *config.Config, reviews Reviews, bus *events.Bus, logger *zap.Logger) (*Bot, error) {
	if !cfg.Paging.Enabled || cfg.Paging.TelegramBotToken == "" {
		logger.Info("Telegram bot is disabled (paging.enabled=false or token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Paging.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	b := newBot(botAPI, reviews, cfg.Paging.ReviewerChatIDs, logger)
	b.api = botAPI
	b.sub = bus.Subscribe(cfg.Events.BufferSize, events.KindHighRiskDetected, events.KindHumanReviewRequired)
	return b, nil
}

func newBot(out sender, reviews Reviews, chatIDs []int64, logger *zap.Logger) *Bot {
	allowed := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = true
	}
	return &Bot{
		out:     out,
		reviews: reviews,
		chatIDs: chatIDs,
		allowed: allowed,
		logger:  logger,
	}
}

// Start forwards events to reviewers and handles their replies until ctx
// is done.
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil // Bot is disabled
	}
	defer b.sub.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case ev, ok := <-b.sub.C():
			if !ok {
				b.api.StopReceivingUpdates()
				return nil
			}
			b.notify(ev)
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallbackQuery(ctx, update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// notify pages every reviewer chat. Review requests carry verdict buttons.
func (b *Bot) notify(ev events.Event) {
	a := ev.Assessment
	if a == nil {
		return
	}

	var text string
	var keyboard *tgbotapi.InlineKeyboardMarkup
	switch ev.Kind {
	case events.KindHighRiskDetected:
		text = fmt.Sprintf("🚨 High risk detected\n\nSubject: %s\nLevel: %s\nScore: %.1f\nConfidence: %.0f%%\nFactors: %s",
			a.UserID, a.RiskLevel, a.RiskScore, a.Confidence*100, joinFactors(a.ContributingFactors))
	case events.KindHumanReviewRequired:
		text = fmt.Sprintf("🔔 Review required\n\nSubject: %s\nAssessment: %s\nLevel: %s\nScore: %.1f\nConfidence: %.0f%%\nFactors: %s",
			a.UserID, a.ID, a.RiskLevel, a.RiskScore, a.Confidence*100, joinFactors(a.ContributingFactors))
		kb := verdictKeyboard(a.ID)
		keyboard = &kb
	default:
		return
	}

	for _, chatID := range b.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if keyboard != nil {
			msg.ReplyMarkup = *keyboard
		}
		if _, err := b.out.Send(msg); err != nil {
			b.logger.Error("Failed to page reviewer",
				zap.Int64("chat_id", chatID),
				zap.String("assessment_id", a.ID),
				zap.Error(err))
		}
	}
}

func verdictKeyboard(assessmentID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", string(models.VerdictConfirmed)+":"+assessmentID),
			tgbotapi.NewInlineKeyboardButtonData("❎ False positive", string(models.VerdictFalsePositive)+":"+assessmentID),
			tgbotapi.NewInlineKeyboardButtonData("⬆️ Escalate", string(models.VerdictEscalate)+":"+assessmentID),
		),
	)
}

// handleCallbackQuery records the verdict carried by a button press.
// Callback data is "<verdict>:<assessment id>".
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.logger.Info("Received callback query",
		zap.String("data", query.Data),
		zap.Int64("user_id", query.From.ID),
	)

	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.out.Request(callback); err != nil {
		b.logger.Error("Failed to send callback response", zap.Error(err))
	}

	chatID := query.From.ID
	if query.Message != nil {
		chatID = query.Message.Chat.ID
	}
	if !b.allowed[chatID] {
		b.logger.Warn("Callback from unknown chat ignored", zap.Int64("chat_id", chatID))
		return
	}

	parts := strings.SplitN(query.Data, ":", 2)
	if len(parts) != 2 || !models.Verdict(parts[0]).Valid() || parts[1] == "" {
		b.logger.Error("Failed to parse callback data: invalid format", zap.String("data", query.Data))
		b.sendMessage(chatID, "❌ Could not process the request")
		return
	}
	verdict := models.Verdict(parts[0])
	assessmentID := parts[1]
	reviewer := reviewerName(query.From)

	rec, err := b.reviews.RequestHumanReview(ctx, assessmentID, &reviewer)
	if err != nil {
		if errors.Is(err, review.ErrReviewResolved) {
			b.sendMessage(chatID, "ℹ️ This review has already been resolved")
			return
		}
		b.logger.Error("Failed to look up review", zap.String("assessment_id", assessmentID), zap.Error(err))
		b.sendMessage(chatID, "❌ Review not found")
		return
	}

	if _, err := b.reviews.RecordVerdict(ctx, rec.ID, verdict, nil, nil, &reviewer); err != nil {
		if errors.Is(err, review.ErrReviewResolved) {
			b.sendMessage(chatID, "ℹ️ This review has already been resolved")
			return
		}
		b.logger.Error("Failed to record verdict", zap.String("review_id", rec.ID), zap.Error(err))
		b.sendMessage(chatID, "❌ Failed to record the verdict")
		return
	}

	b.logger.Info("Verdict recorded from Telegram",
		zap.String("review_id", rec.ID),
		zap.String("verdict", string(verdict)),
		zap.String("reviewer", reviewer),
	)

	responseMessage := fmt.Sprintf("✅ Recorded %s by %s", verdict, reviewer)
	if query.Message != nil {
		edit := tgbotapi.NewEditMessageText(
			query.Message.Chat.ID,
			query.Message.MessageID,
			query.Message.Text+"\n\n"+responseMessage,
		)
		if _, err := b.out.Send(edit); err != nil {
			b.logger.Error("Failed to edit message", zap.Error(err))
		}
		return
	}
	b.sendMessage(chatID, responseMessage)
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}
	switch message.Command() {
	case "start", "help":
		b.sendMessage(message.Chat.ID, "I page reviewers when a monitored subject is at high risk.\n\n"+
			"/pending - list open reviews\n"+
			"/help - this message\n\n"+
			"Your chat ID: "+strconv.FormatInt(message.Chat.ID, 10))
	case "pending":
		if !b.allowed[message.Chat.ID] {
			return
		}
		b.sendPending(ctx, message.Chat.ID)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help.")
	}
}

func (b *Bot) sendPending(ctx context.Context, chatID int64) {
	pending, err := b.reviews.PendingReviews(ctx)
	if err != nil {
		b.logger.Error("Failed to list pending reviews", zap.Error(err))
		b.sendMessage(chatID, "❌ Failed to list reviews")
		return
	}
	if len(pending) == 0 {
		b.sendMessage(chatID, "No open reviews.")
		return
	}
	for _, rec := range pending {
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Subject: %s\nAssessment: %s\nLevel: %s\nRequested: %s",
			rec.SubjectID, rec.AssessmentRef, rec.RiskLevel, rec.RequestedAt.Format("2006-01-02 15:04 MST")))
		msg.ReplyMarkup = verdictKeyboard(rec.AssessmentRef)
		if _, err := b.out.Send(msg); err != nil {
			b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// sendMessage is a helper to send a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.out.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func reviewerName(u *tgbotapi.User) string {
	if u == nil {
		return "telegram"
	}
	if u.UserName != "" {
		return "telegram:" + u.UserName
	}
	return "telegram:" + strconv.FormatInt(u.ID, 10)
}

func joinFactors(fs []models.Factor) string {
	if len(fs) == 0 {
		return "none"
	}
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
