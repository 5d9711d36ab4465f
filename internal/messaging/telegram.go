package messaging

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"stepgate/backend/pkg/models"
)

const (
	callbackApprove = "a"
	callbackSkip    = "s"
	// Telegram rejects callback data longer than this.
	maxCallbackData = 64
	sendTimeout     = 10 * time.Second
)

// telegramAPI is the part of *bot.Bot the notifier uses.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// TelegramNotifier posts events that need a human, and workflow outcomes, to
// a Telegram chat. Confirmation requests carry approve and skip buttons.
type TelegramNotifier struct {
	api     telegramAPI
	bot     *bot.Bot
	chatID  int64
	control ControlHandler
	logger  Logger
}

// NewTelegramNotifier creates a notifier for chatID. control may be nil, in
// which case no buttons are offered.
func NewTelegramNotifier(token string, chatID int64, control ControlHandler, logger Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	n := &TelegramNotifier{chatID: chatID, control: control, logger: logger}
	b, err := bot.New(token, bot.WithDefaultHandler(n.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	n.bot = b
	n.api = b
	return n, nil
}

// Start polls Telegram for button presses until ctx is done.
func (n *TelegramNotifier) Start(ctx context.Context) {
	if n.bot == nil || n.control == nil {
		return
	}
	n.bot.Start(ctx)
}

// SendEvent implements Messenger. Sending happens in the background.
func (n *TelegramNotifier) SendEvent(ctx context.Context, sessionID string, event models.Event) {
	if !notifiable(event.Type) {
		return
	}
	params := &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      formatEvent(sessionID, event),
		ParseMode: tgmodels.ParseModeHTML,
	}
	if event.Type == models.EventStepConfirmationRequired && event.Step != nil && n.control != nil {
		if keyboard := decisionKeyboard(event.WorkflowID, event.Step.StepID); keyboard != nil {
			params.ReplyMarkup = keyboard
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if _, err := n.api.SendMessage(ctx, params); err != nil {
			n.logger.Warn("Failed to send Telegram notification", "type", string(event.Type), "error", err)
		}
	}()
}

func notifiable(t models.EventType) bool {
	switch t {
	case models.EventWorkflowCompleted, models.EventWorkflowCancelled:
		return true
	}
	return t.NeedsAttention()
}

func formatEvent(sessionID string, event models.Event) string {
	var b strings.Builder
	name := html.EscapeString(event.WorkflowName)
	switch event.Type {
	case models.EventStepConfirmationRequired:
		fmt.Fprintf(&b, "⏸ <b>%s</b> needs approval", name)
	case models.EventStepRejectedByJudge:
		fmt.Fprintf(&b, "🛑 <b>%s</b>: step rejected by safety review", name)
	case models.EventStepFailed:
		fmt.Fprintf(&b, "❌ <b>%s</b>: step failed", name)
	case models.EventWorkflowCompleted:
		fmt.Fprintf(&b, "✅ <b>%s</b> completed", name)
	case models.EventWorkflowCancelled:
		fmt.Fprintf(&b, "🚫 <b>%s</b> cancelled", name)
	default:
		fmt.Fprintf(&b, "<b>%s</b>: %s", name, event.Type)
	}
	fmt.Fprintf(&b, "\nsession <code>%s</code>", html.EscapeString(sessionID))

	if event.Step != nil {
		fmt.Fprintf(&b, "\nstep <code>%s</code> (%s risk)\n<pre>%s</pre>",
			html.EscapeString(event.Step.StepID), event.Step.RiskLevel, html.EscapeString(event.Step.Command))
	}
	if event.Reason != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(event.Reason))
	}
	if event.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", html.EscapeString(event.Error))
	}
	for _, s := range event.Suggestions {
		fmt.Fprintf(&b, "\n• %s", html.EscapeString(s))
	}
	if event.Summary != nil {
		fmt.Fprintf(&b, "\n%d completed, %d skipped, %d failed of %d",
			event.Summary.CompletedSteps, event.Summary.SkippedSteps, event.Summary.FailedSteps, event.Summary.TotalSteps)
	}
	return b.String()
}

func decisionKeyboard(workflowID, stepID string) *tgmodels.InlineKeyboardMarkup {
	approve := callbackData(callbackApprove, workflowID, stepID)
	skip := callbackData(callbackSkip, workflowID, stepID)
	if len(approve) > maxCallbackData || len(skip) > maxCallbackData {
		return nil
	}
	return &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
			{Text: "✅ Approve", CallbackData: approve},
			{Text: "⏭ Skip", CallbackData: skip},
		}},
	}
}

func callbackData(kind, workflowID, stepID string) string {
	return kind + ":" + workflowID + ":" + stepID
}

func parseCallbackData(data string) (models.ControlAction, string, string, bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return models.ControlUnknown, "", "", false
	}
	switch parts[0] {
	case callbackApprove:
		return models.ControlApproveStep, parts[1], parts[2], true
	case callbackSkip:
		return models.ControlSkipStep, parts[1], parts[2], true
	}
	return models.ControlUnknown, "", "", false
}

// callbackChatID returns the chat of the message a button was attached to.
func callbackChatID(callback *tgmodels.CallbackQuery) (int64, bool) {
	switch {
	case callback.Message.Message != nil:
		return callback.Message.Message.Chat.ID, true
	case callback.Message.InaccessibleMessage != nil:
		return callback.Message.InaccessibleMessage.Chat.ID, true
	}
	return 0, false
}

func (n *TelegramNotifier) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	callback := update.CallbackQuery
	if callback == nil || n.control == nil {
		return
	}
	if chatID, ok := callbackChatID(callback); !ok || chatID != n.chatID {
		n.logger.Warn("Ignoring callback from another chat", "chat_id", chatID, "from", callback.From.ID)
		_, _ = n.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callback.ID, Text: "Not allowed"})
		return
	}

	action, workflowID, stepID, ok := parseCallbackData(callback.Data)
	if ok {
		// Acknowledge first; an approval may run for a long time.
		_, _ = n.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callback.ID,
			Text:            fmt.Sprintf("%s %s requested", action, stepID),
		})
		actor := "telegram:" + callback.From.Username
		if callback.From.Username == "" {
			actor = fmt.Sprintf("telegram:%d", callback.From.ID)
		}
		dispatched, err := n.control(context.WithoutCancel(ctx), models.ControlRequest{
			WorkflowID: workflowID,
			Action:     action,
			StepID:     stepID,
			Actor:      actor,
		})
		if err != nil || !dispatched {
			n.logger.Warn("Telegram control request refused", "workflow_id", workflowID, "action", action.String(), "error", err)
		}
		return
	}
	_, _ = n.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callback.ID, Text: "Unknown action"})
}
