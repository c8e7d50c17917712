package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"edu-tracker/internal/model"
	"edu-tracker/internal/service"
)

const maxBackupBytes = 10 << 20

func (b *Bot) handleCourses(ctx context.Context, msg *tgbotapi.Message) error {
	courses, err := b.deps.Courses.List(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(courses) == 0 {
		return b.sendText(msg.Chat.ID, "No courses yet. Add one with /addcourse Matematik.")
	}
	var builder strings.Builder
	builder.WriteString("📚 <b>Courses</b>\n")
	for _, course := range courses {
		builder.WriteString(fmt.Sprintf("• %s\n", escape(course.Name)))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleAddCourse(ctx context.Context, msg *tgbotapi.Message) error {
	course, err := b.deps.Courses.AddCourse(ctx, service.CourseInput{Name: msg.CommandArguments()})
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Course «%s» added.", escape(course.Name)))
}

func (b *Bot) handleDeleteCourse(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		return b.sendText(msg.Chat.ID, "Use: /delcourse Matematik")
	}
	course, err := b.deps.Courses.FindByName(ctx, name)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.askConfirmation(msg.Chat.ID, msg.From.ID,
		confirmationRequest{id: course.ID, label: course.Name, action: actionDeleteCourse},
		fmt.Sprintf("Delete course «%s» with all of its tasks?", escape(course.Name)))
}

func (b *Bot) askDeleteTask(ctx context.Context, chatID, userID int64, taskID string) error {
	task, err := b.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	return b.askConfirmation(chatID, userID,
		confirmationRequest{id: task.ID, label: task.Title, action: actionDeleteTask},
		fmt.Sprintf("Delete task «%s»?", escape(task.Title)))
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	courses, err := b.deps.Courses.List(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(courses) == 0 {
		return b.sendText(msg.Chat.ID, "Add a course first: /addcourse Matematik")
	}
	log.Printf("[info] start new task conversation user=%d", msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageCourse})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> which course?", courseKeyboard(courses))
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageCourse:
		course, err := b.deps.Courses.FindByName(ctx, text)
		if err != nil {
			return b.sendText(msg.Chat.ID, "Pick one of the courses on the keyboard.")
		}
		state.input.CourseID = course.ID
		state.stage = stageType
		return b.sendWithReplyMarkup(msg.Chat.ID, "<b>Step 2:</b> what kind of task?", typeKeyboard())
	case stageType:
		taskType, ok := parseTaskType(text)
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Pick a task type on the keyboard.", typeKeyboard())
		}
		state.input.Type = taskType
		state.stage = stageTitle
		return b.sendWithReplyMarkup(msg.Chat.ID, "<b>Step 3:</b> what is the task called?", cancelKeyboard())
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stagePlanned
		return b.sendWithReplyMarkup(msg.Chat.ID, "<b>Step 4:</b> planned duration in minutes?", cancelKeyboard())
	case stagePlanned:
		minutes, err := strconv.Atoi(text)
		if err != nil || minutes <= 0 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Minutes must be a positive number, like 30.", cancelKeyboard())
		}
		state.input.PlannedDuration = minutes
		switch state.input.Type {
		case model.TaskTypeQuestions:
			state.stage = stageQuestionCount
			return b.sendWithReplyMarkup(msg.Chat.ID, "How many questions?", cancelKeyboard())
		case model.TaskTypeReading:
			state.stage = stageBookTitle
			return b.sendWithReplyMarkup(msg.Chat.ID, "Which book? (or skip)", skipKeyboard())
		}
		state.stage = stageDueDate
		return b.askDueDate(msg.Chat.ID)
	case stageQuestionCount:
		count, err := strconv.Atoi(text)
		if err != nil || count <= 0 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The question count must be a positive number.", cancelKeyboard())
		}
		state.input.QuestionCount = count
		state.stage = stageDueDate
		return b.askDueDate(msg.Chat.ID)
	case stageBookTitle:
		if !isSkipInput(text) {
			state.input.BookTitle = text
		}
		state.stage = stageDueDate
		return b.askDueDate(msg.Chat.ID)
	case stageDueDate:
		if !isSkipInput(text) {
			parsed, err := time.ParseInLocation("2006-01-02", text, b.now().Location())
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "I cannot read that date. Use <code>2025-11-30</code> or skip.", skipKeyboard())
			}
			state.input.DueDate = &parsed
		}
		err := b.finishTaskCreation(ctx, msg.Chat.ID, state.input)
		b.clearConversation(msg.From.ID)
		return err
	case stageCorrect, stageIncorrect, stageEmpty, stagePages:
		return b.handleFinishInput(ctx, msg, state)
	case stageImport:
		if msg.Document == nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Send the backup as a .json file.", cancelKeyboard())
		}
		err := b.importDocument(ctx, msg)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Dialog reset. Try again.")
	}
}

func (b *Bot) askDueDate(chatID int64) error {
	return b.sendWithReplyMarkup(chatID, "<b>Last step:</b> due date as <code>2025-11-30</code> (or skip).", skipKeyboard())
}

func (b *Bot) finishTaskCreation(ctx context.Context, chatID int64, input service.TaskInput) error {
	task, err := b.deps.Tasks.AddTask(ctx, input)
	if err != nil {
		return b.sendTextWithRemove(chatID, userMessage(err))
	}

	log.Printf("[info] task created id=%s type=%s", task.ID, task.Type)

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(task.Title)))
	summary.WriteString(fmt.Sprintf("• <b>Type:</b> %s\n", taskTypeLabel(*task)))
	summary.WriteString(fmt.Sprintf("• <b>Planned:</b> %d min\n", task.PlannedDuration))
	if task.DueDate != nil {
		summary.WriteString(fmt.Sprintf("• <b>Due:</b> %s\n", task.DueDate.Format("2006-01-02")))
	}
	return b.sendTextWithRemove(chatID, strings.TrimSpace(summary.String()))
}

func (b *Bot) handlePerformance(ctx context.Context, msg *tgbotapi.Message) error {
	perf, err := b.deps.Tasks.Performance(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if len(perf) == 0 {
		return b.sendText(msg.Chat.ID, "No courses yet.")
	}
	var builder strings.Builder
	builder.WriteString("📊 <b>Performance</b>\n")
	for _, p := range perf {
		builder.WriteString(fmt.Sprintf("• <b>%s</b>: ✅ %d · ❌ %d · ⏱ %d min\n",
			escape(p.CourseName), p.Correct, p.Incorrect, p.TimeSpent))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	period := service.ReportPeriod(strings.ToLower(strings.TrimSpace(msg.CommandArguments())))
	if period == "" {
		period = service.PeriodWeekly
	}
	if err := b.sendText(msg.Chat.ID, "🤖 Analyzing, this can take a minute..."); err != nil {
		return err
	}
	report, err := b.deps.Reports.Report(ctx, period)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	if report == nil {
		return b.sendText(msg.Chat.ID, "No completed tasks in this period yet.")
	}
	return b.sendText(msg.Chat.ID, formatReport(report))
}

func (b *Bot) handleBriefing(ctx context.Context, msg *tgbotapi.Message) error {
	briefing, err := b.deps.Reports.DailyBriefing(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	return b.sendText(msg.Chat.ID, formatBriefing(briefing))
}

func (b *Bot) handleSummary(ctx context.Context, msg *tgbotapi.Message) error {
	text, err := b.deps.Reports.PendingSummary(ctx, b.now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the summary: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) error {
	raw, err := b.deps.Backup.ExportJSON(ctx)
	if err != nil {
		return b.sendText(msg.Chat.ID, userMessage(err))
	}
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("edu-tracker-%s.json", b.now().Format("2006-01-02")),
		Bytes: raw,
	})
	doc.Caption = "💾 Backup"
	if _, err := b.api.Send(doc); err != nil {
		return err
	}
	if b.deps.Sync != nil && b.deps.Sync.Enabled() {
		b.deps.Sync.Push(ctx)
		return b.sendText(msg.Chat.ID, "☁️ A cloud copy is on its way.")
	}
	return nil
}

func (b *Bot) startImport(msg *tgbotapi.Message) error {
	b.setConversation(msg.From.ID, &conversationState{stage: stageImport})
	return b.sendWithReplyMarkup(msg.Chat.ID,
		"📥 Send the backup .json file. <b>Everything current will be replaced.</b>", cancelKeyboard())
}

func (b *Bot) importDocument(ctx context.Context, msg *tgbotapi.Message) error {
	url, err := b.api.GetFileDirectURL(msg.Document.FileID)
	if err != nil {
		return b.sendTextWithRemove(msg.Chat.ID, userMessage(fmt.Errorf("get file: %w", err)))
	}
	raw, err := b.download(ctx, url)
	if err != nil {
		return b.sendTextWithRemove(msg.Chat.ID, userMessage(err))
	}
	if err := b.deps.Backup.Import(ctx, raw); err != nil {
		return b.sendTextWithRemove(msg.Chat.ID, userMessage(err))
	}
	log.Printf("[info] backup imported by %d", msg.From.ID)
	return b.sendTextWithRemove(msg.Chat.ID, "✅ Backup imported.")
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download backup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download backup: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBackupBytes))
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return raw, nil
}

func (b *Bot) handleSync(ctx context.Context, msg *tgbotapi.Message) error {
	if b.deps.Sync == nil || !b.deps.Sync.Enabled() {
		return b.sendText(msg.Chat.ID, "☁️ Cloud backup is not configured. Data is stored locally only.")
	}
	status := b.deps.Sync.Status()
	var text string
	switch {
	case status.LastError != "":
		text = fmt.Sprintf("⚠️ Last upload failed, data kept locally: %s", escape(status.LastError))
	case status.LastSuccess.IsZero():
		text = "☁️ No upload yet."
	default:
		text = fmt.Sprintf("☁️ Last upload: %s", status.LastSuccess.In(b.now().Location()).Format("2006-01-02 15:04"))
	}
	b.deps.Sync.Push(ctx)
	return b.sendText(msg.Chat.ID, text+"\nA new upload has started.")
}

func (b *Bot) courseNames(ctx context.Context) map[string]string {
	names := make(map[string]string)
	courses, err := b.deps.Courses.List(ctx)
	if err != nil {
		log.Printf("[warn] list courses: %v", err)
		return names
	}
	for _, c := range courses {
		names[c.ID] = c.Name
	}
	return names
}
