package telegram_bot

import (
	"context"
	"fmt"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crisis-engine/internal/config"
	"crisis-engine/internal/events"
	"crisis-engine/internal/models"
	"crisis-engine/internal/review"
)

type fakeSender struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeReviews struct {
	records  map[string]*models.HumanReviewRecord // by assessment
	verdicts []models.Verdict
	resolved bool
}

func (f *fakeReviews) RequestHumanReview(_ context.Context, assessmentID string, _ *string) (*models.HumanReviewRecord, error) {
	rec, ok := f.records[assessmentID]
	if !ok {
		return nil, fmt.Errorf("assessment not found: %s", assessmentID)
	}
	if f.resolved {
		return rec, review.ErrReviewResolved
	}
	return rec, nil
}

func (f *fakeReviews) RecordVerdict(_ context.Context, recordID string, verdict models.Verdict, _ *models.RiskLevel, _, reviewer *string) (*models.HumanReviewRecord, error) {
	f.verdicts = append(f.verdicts, verdict)
	return &models.HumanReviewRecord{ID: recordID, Reviewer: reviewer}, nil
}

func (f *fakeReviews) PendingReviews(context.Context) ([]models.HumanReviewRecord, error) {
	var out []models.HumanReviewRecord
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func newTestBot() (*Bot, *fakeSender, *fakeReviews) {
	out := &fakeSender{}
	reviews := &fakeReviews{records: map[string]*models.HumanReviewRecord{
		"a-1": {ID: "r-1", AssessmentRef: "a-1", SubjectID: "s-1", RiskLevel: models.RiskCritical},
	}}
	return newBot(out, reviews, []int64{100, 200}, zap.NewNop()), out, reviews
}

func reviewAssessment() *models.CrisisRiskAssessment {
	return &models.CrisisRiskAssessment{
		ID: "a-1", UserID: "s-1", RiskLevel: models.RiskCritical, RiskScore: 80, Confidence: 0.6,
		ContributingFactors: []models.Factor{models.FactorText}, RequiresHumanReview: true,
	}
}

func TestNotify_ReviewRequestCarriesButtons(t *testing.T) {
	b, out, _ := newTestBot()

	b.notify(events.Event{Kind: events.KindHumanReviewRequired, Assessment: reviewAssessment()})

	require.Len(t, out.sent, 2)
	msg, ok := out.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(100), msg.ChatID)
	assert.Contains(t, msg.Text, "Review required")
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard[0], 3)
	assert.Equal(t, "false_positive:a-1", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestNotify_HighRiskIsPlainPage(t *testing.T) {
	b, out, _ := newTestBot()

	b.notify(events.Event{Kind: events.KindHighRiskDetected, Assessment: reviewAssessment()})
	b.notify(events.Event{Kind: events.KindRiskAssessed, Assessment: reviewAssessment()})
	b.notify(events.Event{Kind: events.KindHighRiskDetected})

	require.Len(t, out.sent, 2)
	msg := out.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "High risk detected")
	assert.Nil(t, msg.ReplyMarkup)
}

func callback(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 7, UserName: "dr_lee"},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: chatID}, Text: "Review required"},
		Data:    data,
	}
}

func TestCallback_RecordsVerdict(t *testing.T) {
	b, out, reviews := newTestBot()

	b.handleCallbackQuery(context.Background(), callback(100, "escalate:a-1"))

	assert.Equal(t, []models.Verdict{models.VerdictEscalate}, reviews.verdicts)
	require.Len(t, out.requests, 1)
	require.Len(t, out.sent, 1)
	edit, ok := out.sent[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Contains(t, edit.Text, "Recorded escalate by telegram:dr_lee")
}

func sentText(t *testing.T, c tgbotapi.Chattable) string {
	t.Helper()
	msg, ok := c.(tgbotapi.MessageConfig)
	require.True(t, ok, "expected a MessageConfig, got %T", c)
	return msg.Text
}

func TestCallback_Rejections(t *testing.T) {
	b, out, reviews := newTestBot()
	ctx := context.Background()

	b.handleCallbackQuery(ctx, callback(999, "confirmed:a-1"))
	assert.Empty(t, reviews.verdicts)
	assert.Empty(t, out.sent)

	b.handleCallbackQuery(ctx, callback(100, "approve:a-1"))
	require.Len(t, out.sent, 1)
	assert.Equal(t, "❌ Could not process the request", sentText(t, out.sent[0]))

	b.handleCallbackQuery(ctx, callback(100, "confirmed:missing"))
	require.Len(t, out.sent, 2)
	assert.Equal(t, "❌ Review not found", sentText(t, out.sent[1]))

	reviews.resolved = true
	b.handleCallbackQuery(ctx, callback(100, "confirmed:a-1"))
	require.Len(t, out.sent, 3)
	assert.Equal(t, "ℹ️ This review has already been resolved", sentText(t, out.sent[2]))

	assert.Empty(t, reviews.verdicts)
}

func TestNewBot_DisabledReturnsNil(t *testing.T) {
	cfg := config.Default()
	b, err := NewBot(cfg, &fakeReviews{}, events.NewBus(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, b.Start(context.Background()))
}
