package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"edu-tracker/internal/model"
	"edu-tracker/internal/service"
)

const (
	btnSkip          = "⏭️ Skip"
	btnConfirm       = "✅ Confirm"
	btnCancel        = "↩️ Cancel"
	btnCancelDialog  = "⏪ Cancel input"
	btnTypeQuestions = "❓ Questions"
	btnTypeStudy     = "📖 Study"
	btnTypeReading   = "📚 Reading"
	iconDefault      = "🟢"
	iconDue          = "⏳"
	iconOverdue      = "⚠️"
	menuLabelTasks   = "📋 Tasks"
	menuLabelRewards = "🎁 Rewards"
	menuLabelBadges  = "🏅 Badges"
	menuLabelHelp    = "ℹ️ Help"
)

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelRewards):
		return true, b.handleRewards(ctx, msg)
	case strings.ToLower(menuLabelBadges):
		return true, b.handleBadges(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(ctx, msg)
	default:
		return false, nil
	}
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelRewards),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelBadges),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func typeKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnTypeQuestions),
			tgbotapi.NewKeyboardButton(btnTypeStudy),
			tgbotapi.NewKeyboardButton(btnTypeReading),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// courseKeyboard lays courses out two per row.
func courseKeyboard(courses []model.Course) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(courses); i += 2 {
		row := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(courses[i].Name))
		if i+1 < len(courses) {
			row = append(row, tgbotapi.NewKeyboardButton(courses[i+1].Name))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)))
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func parseTaskType(text string) (model.TaskType, bool) {
	switch strings.TrimSpace(strings.ToLower(text)) {
	case strings.ToLower(btnTypeQuestions), "questions", string(model.TaskTypeQuestions):
		return model.TaskTypeQuestions, true
	case strings.ToLower(btnTypeStudy), string(model.TaskTypeStudy):
		return model.TaskTypeStudy, true
	case strings.ToLower(btnTypeReading), string(model.TaskTypeReading):
		return model.TaskTypeReading, true
	}
	return "", false
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel" || value == "no"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "cancel input"
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

// clock renders seconds as mm:ss, or h:mm:ss past an hour.
func clock(seconds int) string {
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatTask(task model.Task, courseNames map[string]string, now time.Time) string {
	var sb strings.Builder
	icon := iconDefault
	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		if now.After(d) {
			icon = iconOverdue
		} else if d.Sub(now) <= 48*time.Hour {
			icon = iconDue
		}
	}
	sb.WriteString(fmt.Sprintf("%s <b>%s</b>", icon, escape(strings.TrimSpace(task.Title))))
	if name := courseNames[task.CourseID]; name != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", escape(name)))
	}
	sb.WriteString(fmt.Sprintf("\n   ⏱ %d min · %s", task.PlannedDuration, taskTypeLabel(task)))
	if task.StartedAt != nil {
		sb.WriteString(" · started")
	}
	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s, <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s", d.Format("2006-01-02")))
		}
	}
	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", escape(task.Description)))
	}
	sb.WriteString("\n\n")
	return sb.String()
}

func taskTypeLabel(task model.Task) string {
	switch task.Type {
	case model.TaskTypeQuestions:
		return fmt.Sprintf("%d questions", task.QuestionCount)
	case model.TaskTypeReading:
		if task.BookTitle != "" {
			return "reading " + escape(task.BookTitle)
		}
		return "reading"
	default:
		return "study"
	}
}

func formatScores(task model.Task) string {
	var parts []string
	if task.SuccessScore != nil {
		parts = append(parts, fmt.Sprintf("🎯 Success %d", *task.SuccessScore))
	}
	if task.FocusScore != nil {
		parts = append(parts, fmt.Sprintf("🧠 Focus %d", *task.FocusScore))
	}
	parts = append(parts, fmt.Sprintf("⭐ +%d points", task.PointsAwarded))
	return strings.Join(parts, " · ") + fmt.Sprintf("\n⏱ %s studied", clock(task.ActualDuration))
}

func formatReport(r *service.Report) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🤖 <b>%s report</b> (%d tasks)\n\n", normalizeTitle(string(r.Period)), r.TaskCount))
	sb.WriteString(escape(r.Summary))
	if r.MostImprovedCourse != "" {
		sb.WriteString(fmt.Sprintf("\n\n📈 Most improved: <b>%s</b>", escape(r.MostImprovedCourse)))
	}
	if r.NeedsFocusCourse != "" {
		sb.WriteString(fmt.Sprintf("\n🎯 Needs focus: <b>%s</b>", escape(r.NeedsFocusCourse)))
	}
	if r.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n💡 %s", escape(r.Suggestion)))
	}
	return sb.String()
}

func formatBriefing(br *service.Briefing) string {
	var sb strings.Builder
	sb.WriteString("☀️ <b>Daily briefing</b>\n")
	sb.WriteString(fmt.Sprintf("Completed yesterday: <b>%d</b>", br.CompletedYesterday))
	if br.AverageSuccess != nil {
		sb.WriteString(fmt.Sprintf(" · average success %d", *br.AverageSuccess))
	}
	if len(br.PendingTitles) > 0 {
		sb.WriteString("\n\n🔥 Up next:\n")
		for _, title := range br.PendingTitles {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(title)))
		}
	}
	sb.WriteString("\n" + escape(br.Summary))
	if br.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n💡 %s", escape(br.Suggestion)))
	}
	return strings.TrimSpace(sb.String())
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
