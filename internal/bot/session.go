package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"edu-tracker/internal/model"
	"edu-tracker/internal/service"
	"edu-tracker/internal/timer"
)

const (
	cbStart     = "start"
	cbPause     = "pause"
	cbContinue  = "cont"
	cbBreak     = "break"
	cbEndBreak  = "endbrk"
	cbFinish    = "finish"
	cbRefresh   = "refresh"
	cbDiscard   = "discard"
	cbResume    = "resume"
	cbDrop      = "drop"
	cbClaim     = "claim"
	cbDelTask   = "deltask"
	cbDelReward = "delrew"
)

func callbackData(prefix, id string) string {
	return prefix + ":" + id
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}

	prefix, id, _ := strings.Cut(cb.Data, ":")
	chatID := cb.Message.Chat.ID
	log.Printf("[info] callback %s user=%d id=%s", prefix, cb.From.ID, id)

	switch prefix {
	case cbStart, cbResume:
		b.ack(cb, "")
		return b.startSession(ctx, chatID, id)
	case cbPause, cbContinue, cbBreak, cbEndBreak:
		if err := b.sessionAction(ctx, prefix, id); err != nil {
			b.ack(cb, plain(err))
			return nil
		}
		b.ack(cb, "")
		return b.editSessionMessage(ctx, chatID, cb.Message.MessageID, id)
	case cbRefresh:
		b.ack(cb, "")
		return b.editSessionMessage(ctx, chatID, cb.Message.MessageID, id)
	case cbFinish:
		b.ack(cb, "")
		return b.requestFinish(ctx, chatID, cb.From.ID, id)
	case cbDiscard:
		b.ack(cb, "")
		task, err := b.deps.Tasks.Get(ctx, id)
		if err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		return b.askConfirmation(chatID, cb.From.ID,
			confirmationRequest{id: id, label: task.Title, action: actionDiscardSession},
			fmt.Sprintf("Discard the session for «%s»? The time counted so far is lost.", escape(task.Title)))
	case cbDrop:
		b.ack(cb, "")
		if _, ok := b.deps.Sessions.Driver(id); ok {
			return b.sendText(chatID, "⏱ This session is already running. Use Discard on the timer to drop it.")
		}
		if err := b.deps.Sessions.Discard(ctx, id); err != nil {
			return b.sendText(chatID, userMessage(err))
		}
		return b.sendText(chatID, "✖️ The unfinished session was discarded.")
	case cbClaim:
		b.ack(cb, "")
		return b.claimReward(ctx, chatID, id)
	case cbDelTask, cbDelReward:
		b.ack(cb, "")
		user, err := b.ensureUser(ctx, cb.From)
		if err != nil {
			return err
		}
		if !user.IsParent() {
			return b.sendText(chatID, "🔒 Only parents can delete.")
		}
		if prefix == cbDelTask {
			return b.askDeleteTask(ctx, chatID, cb.From.ID, id)
		}
		return b.askDeleteReward(ctx, chatID, cb.From.ID, id)
	default:
		b.ack(cb, "")
		return nil
	}
}

func (b *Bot) sessionAction(ctx context.Context, action, taskID string) error {
	switch action {
	case cbPause:
		return b.deps.Sessions.Pause(ctx, taskID)
	case cbContinue:
		return b.deps.Sessions.Continue(ctx, taskID)
	case cbBreak:
		return b.deps.Sessions.StartBreak(ctx, taskID)
	case cbEndBreak:
		return b.deps.Sessions.EndBreak(ctx, taskID)
	}
	return nil
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	tasks, err := b.deps.Tasks.ListPending(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(tasks) == 0 {
		if user.IsParent() {
			return b.sendText(msg.Chat.ID, "No pending tasks. Assign one with /newtask.")
		}
		return b.sendText(msg.Chat.ID, "No pending tasks. 🎉 Try /study for a free session.")
	}

	names := b.courseNames(ctx)
	now := b.now()

	var builder strings.Builder
	builder.WriteString("📋 <b>Pending tasks</b>\n")
	builder.WriteString("Tap a task to start its timer.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatTask(task, names, now))
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("▶️ "+shortTitle(task.Title, 24), callbackData(cbStart, task.ID)),
		}
		if user.IsParent() {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑", callbackData(cbDelTask, task.ID)))
		}
		buttons = append(buttons, row)
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) startSession(ctx context.Context, chatID int64, taskID string) error {
	if _, err := b.deps.Sessions.Start(ctx, taskID); err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	b.setSessionChat(taskID, chatID)
	return b.sendSessionMessage(ctx, chatID, taskID)
}

// handleStudy starts a self-assigned study session: /study <minutes> <course>.
func (b *Bot) handleStudy(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	minutesRaw, courseName, _ := strings.Cut(strings.TrimSpace(msg.CommandArguments()), " ")
	minutes, err := strconv.Atoi(minutesRaw)
	if err != nil || minutes <= 0 || strings.TrimSpace(courseName) == "" {
		return b.sendText(msg.Chat.ID, "Use: /study 30 Matematik")
	}
	course, err := b.deps.Courses.FindByName(ctx, courseName)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	task, _, err := b.deps.Sessions.StartFreeStudy(ctx, course.ID, "Free study: "+course.Name, minutes)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	b.setSessionChat(task.ID, msg.Chat.ID)
	return b.sendSessionMessage(ctx, msg.Chat.ID, task.ID)
}

// offerRecovery asks whether to resume a session interrupted by a restart.
func (b *Bot) offerRecovery(ctx context.Context, chatID int64) error {
	task, snap, ok, err := b.deps.Sessions.Recoverable(ctx)
	if err != nil {
		log.Printf("[warn] find recoverable session: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	text := fmt.Sprintf("⏸ An unfinished session was found for «%s» (%s studied). Resume it?",
		escape(task.Title), clock(snap.MainTime))
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("▶️ Resume", callbackData(cbResume, task.ID)),
		tgbotapi.NewInlineKeyboardButtonData("✖️ Discard", callbackData(cbDrop, task.ID)),
	))
	return b.sendWithReplyMarkup(chatID, text, markup)
}

func (b *Bot) sessionView(ctx context.Context, taskID string) (string, tgbotapi.InlineKeyboardMarkup, error) {
	d, ok := b.deps.Sessions.Driver(taskID)
	if !ok {
		return "", tgbotapi.InlineKeyboardMarkup{}, service.ErrNoActiveSession
	}
	task, err := b.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		return "", tgbotapi.InlineKeyboardMarkup{}, err
	}
	snap := d.Snapshot()
	text := fmt.Sprintf("⏱ <b>%s</b>\n%s · planned %d min\n\n📖 Study: <b>%s</b>\n☕ Break: %s\n⏸ Pause: %s",
		escape(task.Title), phaseLabel(snap.Phase), task.PlannedDuration,
		clock(snap.MainTime), clock(snap.BreakTime), clock(snap.PauseTime))
	return text, sessionKeyboard(taskID, snap.Phase), nil
}

func (b *Bot) sendSessionMessage(ctx context.Context, chatID int64, taskID string) error {
	text, markup, err := b.sessionView(ctx, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	return b.sendWithReplyMarkup(chatID, text, markup)
}

func (b *Bot) editSessionMessage(ctx context.Context, chatID int64, messageID int, taskID string) error {
	text, markup, err := b.sessionView(ctx, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(edit)
	return err
}

// requestFinish suspends the timer and collects what the task type needs
// before the completion is recorded.
func (b *Bot) requestFinish(ctx context.Context, chatID, userID int64, taskID string) error {
	task, err := b.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if err := b.deps.Sessions.RequestFinish(ctx, taskID); err != nil {
		return b.sendText(chatID, userMessage(err))
	}

	switch task.Type {
	case model.TaskTypeQuestions:
		b.setConversation(userID, &conversationState{stage: stageCorrect, taskID: taskID})
		return b.sendWithReplyMarkup(chatID,
			fmt.Sprintf("🏁 Timer stopped.\nHow many of the %d questions were <b>correct</b>?", task.QuestionCount),
			cancelKeyboard())
	case model.TaskTypeReading:
		b.setConversation(userID, &conversationState{stage: stagePages, taskID: taskID})
		return b.sendWithReplyMarkup(chatID, "🏁 Timer stopped.\nHow many <b>pages</b> did you read?", cancelKeyboard())
	default:
		return b.finishSession(ctx, chatID, userID, taskID, model.Completion{})
	}
}

func (b *Bot) handleFinishInput(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	n, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if err != nil || n < 0 {
		return b.sendWithReplyMarkup(msg.Chat.ID, "Send a whole number, like 7.", cancelKeyboard())
	}

	switch state.stage {
	case stageCorrect:
		state.finish.CorrectCount = &n
		state.stage = stageIncorrect
		return b.sendWithReplyMarkup(msg.Chat.ID, "How many were <b>incorrect</b>?", cancelKeyboard())
	case stageIncorrect:
		state.finish.IncorrectCount = &n
		state.stage = stageEmpty
		return b.sendWithReplyMarkup(msg.Chat.ID, "How many were left <b>empty</b>?", cancelKeyboard())
	case stageEmpty:
		state.finish.EmptyCount = &n
	case stagePages:
		if n == 0 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Pages read must be greater than 0.", cancelKeyboard())
		}
		state.finish.PagesRead = &n
	}
	return b.finishSession(ctx, msg.Chat.ID, msg.From.ID, state.taskID, state.finish)
}

func (b *Bot) finishSession(ctx context.Context, chatID, userID int64, taskID string, input model.Completion) error {
	done, err := b.deps.Sessions.Finish(ctx, taskID, input)
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		// answers did not add up; ask again from the first question
		if state := b.getConversation(userID); state != nil {
			if state.stage == stagePages {
				return b.sendWithReplyMarkup(chatID, userMessage(err), cancelKeyboard())
			}
			state.finish = model.Completion{}
			state.stage = stageCorrect
		}
		return b.sendWithReplyMarkup(chatID, userMessage(err)+"\nLet's try again: how many were <b>correct</b>?", cancelKeyboard())
	}

	b.clearConversation(userID)
	if err != nil {
		if !errors.Is(err, service.ErrNoActiveSession) {
			b.forgetSessionChat(taskID)
		}
		return b.sendTextWithRemove(chatID, userMessage(err))
	}
	b.forgetSessionChat(taskID)

	log.Printf("[info] task %s finished via bot user=%d", taskID, userID)
	text := fmt.Sprintf("🎉 <b>%s</b> done!\n%s", escape(done.Title), formatScores(*done))
	return b.sendTextWithRemove(chatID, text)
}

func sessionKeyboard(taskID string, phase timer.Phase) tgbotapi.InlineKeyboardMarkup {
	var first []tgbotapi.InlineKeyboardButton
	switch phase {
	case timer.PhaseRunning:
		first = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏸ Pause", callbackData(cbPause, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("☕ Break", callbackData(cbBreak, taskID)),
		)
	case timer.PhasePaused:
		first = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Continue", callbackData(cbContinue, taskID)),
		)
	case timer.PhaseBreak:
		first = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ End break", callbackData(cbEndBreak, taskID)),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		first,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏁 Finish", callbackData(cbFinish, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("🔄", callbackData(cbRefresh, taskID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖️ Discard", callbackData(cbDiscard, taskID)),
		),
	)
}

func phaseLabel(phase timer.Phase) string {
	switch phase {
	case timer.PhasePaused:
		return "⏸ paused"
	case timer.PhaseBreak:
		return "☕ on a break"
	default:
		return "▶️ running"
	}
}

// plain is userMessage for callback toasts, which do not render HTML.
func plain(err error) string {
	switch {
	case errors.Is(err, timer.ErrInvalidTransition):
		return "Not possible right now."
	case errors.Is(err, service.ErrNoActiveSession):
		return "This session is not running anymore."
	}
	return "Something went wrong."
}
