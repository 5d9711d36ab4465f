package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/backend/pkg/models"
)

type fakeTelegram struct {
	mu       sync.Mutex
	messages []*bot.SendMessageParams
	answers  []*bot.AnswerCallbackQueryParams
	sent     chan struct{}
}

func (f *fakeTelegram) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	f.messages = append(f.messages, params)
	f.mu.Unlock()
	f.sent <- struct{}{}
	return &tgmodels.Message{ID: 1}, nil
}

func (f *fakeTelegram) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, params)
	return true, nil
}

func newTestNotifier(control ControlHandler) (*TelegramNotifier, *fakeTelegram) {
	api := &fakeTelegram{sent: make(chan struct{}, 8)}
	return &TelegramNotifier{api: api, chatID: 42, control: control, logger: nopLogger{}}, api
}

func waitSent(t *testing.T, api *fakeTelegram) *bot.SendMessageParams {
	t.Helper()
	select {
	case <-api.sent:
	case <-time.After(time.Second):
		t.Fatal("no message sent")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.messages[len(api.messages)-1]
}

func TestTelegramNotifier_ConfirmationCarriesButtons(t *testing.T) {
	n, api := newTestNotifier(func(context.Context, models.ControlRequest) (bool, error) { return true, nil })

	n.SendEvent(context.Background(), "session-1", models.Event{
		Type:         models.EventStepConfirmationRequired,
		WorkflowID:   "wf-1",
		WorkflowName: "deploy <prod>",
		Step:         &models.Step{StepID: "s1", Command: "rm -rf /tmp/x", RiskLevel: models.RiskHigh},
	})

	msg := waitSent(t, api)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgmodels.ParseModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "deploy &lt;prod&gt;")
	assert.Contains(t, msg.Text, "rm -rf /tmp/x")
	assert.Contains(t, msg.Text, "high risk")

	keyboard, ok := msg.ReplyMarkup.(*tgmodels.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 1)
	assert.Equal(t, "a:wf-1:s1", keyboard.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "s:wf-1:s1", keyboard.InlineKeyboard[0][1].CallbackData)
}

func TestTelegramNotifier_IgnoresProgressEvents(t *testing.T) {
	n, api := newTestNotifier(nil)

	n.SendEvent(context.Background(), "session-1", models.Event{Type: models.EventStepCompleted, Step: &models.Step{StepID: "s1"}})
	n.SendEvent(context.Background(), "session-1", models.Event{Type: models.EventWorkflowPaused})
	n.SendEvent(context.Background(), "session-1", models.Event{
		Type:    models.EventWorkflowCompleted,
		Summary: &models.CompletionSummary{TotalSteps: 2, CompletedSteps: 1, SkippedSteps: 1},
	})

	msg := waitSent(t, api)
	assert.Contains(t, msg.Text, "1 completed, 1 skipped, 0 failed of 2")
	assert.Nil(t, msg.ReplyMarkup)
	select {
	case <-api.sent:
		t.Fatal("unexpected second message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelegramNotifier_CallbackDispatchesControl(t *testing.T) {
	var got models.ControlRequest
	n, api := newTestNotifier(func(_ context.Context, req models.ControlRequest) (bool, error) {
		got = req
		return true, nil
	})

	n.handleUpdate(context.Background(), nil, &tgmodels.Update{CallbackQuery: &tgmodels.CallbackQuery{
		ID:      "cb-1",
		Data:    "s:wf-1:s2",
		From:    tgmodels.User{ID: 7, Username: "oncall"},
		Message: messageInChat(42),
	}})

	assert.Equal(t, models.ControlRequest{
		WorkflowID: "wf-1",
		Action:     models.ControlSkipStep,
		StepID:     "s2",
		Actor:      "telegram:oncall",
	}, got)
	require.Len(t, api.answers, 1)
	assert.Equal(t, "cb-1", api.answers[0].CallbackQueryID)
}

func messageInChat(chatID int64) tgmodels.MaybeInaccessibleMessage {
	return tgmodels.MaybeInaccessibleMessage{
		Type:    tgmodels.MaybeInaccessibleMessageTypeMessage,
		Message: &tgmodels.Message{ID: 1, Chat: tgmodels.Chat{ID: chatID}},
	}
}

func TestTelegramNotifier_CallbackFromOtherChatIgnored(t *testing.T) {
	called := false
	n, api := newTestNotifier(func(context.Context, models.ControlRequest) (bool, error) {
		called = true
		return true, nil
	})

	for _, message := range []tgmodels.MaybeInaccessibleMessage{
		messageInChat(99),
		{
			Type:                tgmodels.MaybeInaccessibleMessageTypeInaccessibleMessage,
			InaccessibleMessage: &tgmodels.InaccessibleMessage{Chat: tgmodels.Chat{ID: 7}},
		},
		{},
	} {
		n.handleUpdate(context.Background(), nil, &tgmodels.Update{CallbackQuery: &tgmodels.CallbackQuery{
			ID:      "cb-2",
			Data:    "a:wf-1:s1",
			From:    tgmodels.User{ID: 8, Username: "stranger"},
			Message: message,
		}})
	}

	assert.False(t, called)
	require.Len(t, api.answers, 3)
	assert.Equal(t, "Not allowed", api.answers[0].Text)
}

func TestParseCallbackData(t *testing.T) {
	action, wf, step, ok := parseCallbackData("a:wf-1:step:with:colons")
	require.True(t, ok)
	assert.Equal(t, models.ControlApproveStep, action)
	assert.Equal(t, "wf-1", wf)
	assert.Equal(t, "step:with:colons", step)

	_, _, _, ok = parseCallbackData("x:wf:s")
	assert.False(t, ok)
	_, _, _, ok = parseCallbackData("a::s")
	assert.False(t, ok)
}

func TestDecisionKeyboard_TooLong(t *testing.T) {
	assert.Nil(t, decisionKeyboard("0f8fad5b-d9cb-469f-a165-70867728950e", "a-very-long-step-identifier-name"))
}
