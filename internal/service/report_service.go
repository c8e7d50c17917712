package service

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"math"
	"strings"
	"time"

	"edu-tracker/internal/model"
)

// Generator produces a JSON answer for a prompt. internal/ai.Client is the
// production implementation.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

type ReportPeriod string

const (
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
	PeriodYearly  ReportPeriod = "yearly"
	PeriodAll     ReportPeriod = "all"
)

// Days is the look-back window; zero means no limit.
func (p ReportPeriod) Days() (int, bool) {
	switch p {
	case PeriodWeekly:
		return 7, true
	case PeriodMonthly:
		return 30, true
	case PeriodYearly:
		return 365, true
	case PeriodAll:
		return 0, true
	}
	return 0, false
}

type Report struct {
	Period             ReportPeriod `json:"period"`
	TaskCount          int          `json:"taskCount"`
	Summary            string       `json:"summary"`
	MostImprovedCourse string       `json:"mostImprovedCourse"`
	NeedsFocusCourse   string       `json:"needsFocusCourse"`
	Suggestion         string       `json:"suggestion"`
	Fallback           bool         `json:"fallback"`
}

type Briefing struct {
	PendingTitles      []string `json:"pendingTitles"`
	CompletedYesterday int      `json:"completedYesterday"`
	AverageSuccess     *int     `json:"averageSuccess,omitempty"`
	Summary            string   `json:"summary"`
	Suggestion         string   `json:"suggestion"`
	Fallback           bool     `json:"fallback"`
}

const (
	fallbackReportSummary = "Could not analyze the data right now. Please try again later."
	fallbackBriefing      = "Daily briefing unavailable."
	briefingPendingLimit  = 5
	// a completed task without a stored score counts as this in the briefing average
	briefingDefaultScore = 70
)

// reportItem is the per-task line handed to the generator.
type reportItem struct {
	Course             string `json:"course"`
	SuccessScore       *int   `json:"successScore,omitempty"`
	FocusScore         *int   `json:"focusScore,omitempty"`
	TimeSpentMinutes   int    `json:"timeSpentMinutes"`
	PlannedTimeMinutes int    `json:"plannedTimeMinutes"`
}

// ReportService builds parent-facing summaries: the periodic pending-task
// digest, AI period reports and the daily briefing.
type ReportService struct {
	tasks   *TaskService
	courses *CourseService
	gen     Generator
	now     func() time.Time
}

func NewReportService(tasks *TaskService, courses *CourseService, gen Generator) *ReportService {
	return &ReportService{tasks: tasks, courses: courses, gen: gen, now: time.Now}
}

// Report asks the generator to analyze the completed tasks of period. It
// returns nil when the period holds no completed task. Generator failures
// yield a fallback report instead of an error.
func (s *ReportService) Report(ctx context.Context, period ReportPeriod) (*Report, error) {
	days, ok := period.Days()
	if !ok {
		return nil, fieldError("period", fmt.Sprintf("unknown report period %q", period))
	}
	var since time.Time
	if days > 0 {
		since = s.now().AddDate(0, 0, -days)
	}
	completed, err := s.tasks.ListCompleted(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	if len(completed) == 0 {
		return nil, nil
	}

	names, err := s.courseNames(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]reportItem, 0, len(completed))
	for _, t := range completed {
		items = append(items, reportItem{
			Course:             names[t.CourseID],
			SuccessScore:       t.SuccessScore,
			FocusScore:         t.FocusScore,
			TimeSpentMinutes:   int(math.Round(float64(t.ActualDuration) / 60)),
			PlannedTimeMinutes: t.PlannedDuration,
		})
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode report data: %w", err)
	}

	report := &Report{Period: period, TaskCount: len(completed)}
	prompt := fmt.Sprintf(`You are analyzing a child's study performance for a parent.
Data (one entry per completed task): %s
Answer with a JSON object with these string fields:
- summary: a short, positive and encouraging overview.
- mostImprovedCourse: the course with the highest or fastest-rising average success.
- needsFocusCourse: the course with the lowest success or focus average.
- suggestion: one concrete, practical tip the parent can apply for needsFocusCourse.`, data)

	var answer struct {
		Summary            string `json:"summary"`
		MostImprovedCourse string `json:"mostImprovedCourse"`
		NeedsFocusCourse   string `json:"needsFocusCourse"`
		Suggestion         string `json:"suggestion"`
	}
	err = s.generate(ctx, prompt, &answer)
	if err != nil || answer.Summary == "" || answer.MostImprovedCourse == "" || answer.NeedsFocusCourse == "" || answer.Suggestion == "" {
		if err != nil {
			log.Printf("[warn] report %s: %v", period, err)
		} else {
			log.Printf("[warn] report %s: answer missing fields", period)
		}
		report.Summary = fallbackReportSummary
		report.MostImprovedCourse = "-"
		report.NeedsFocusCourse = "-"
		report.Suggestion = "Check your connection and the AI settings, then try again."
		report.Fallback = true
		return report, nil
	}
	report.Summary = answer.Summary
	report.MostImprovedCourse = answer.MostImprovedCourse
	report.NeedsFocusCourse = answer.NeedsFocusCourse
	report.Suggestion = answer.Suggestion
	return report, nil
}

// DailyBriefing summarizes today's pending work and yesterday's results.
func (s *ReportService) DailyBriefing(ctx context.Context) (*Briefing, error) {
	pending, err := s.tasks.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	now := s.now()
	yesterday := now.AddDate(0, 0, -1).Format(model.CompletionDateLayout)
	completed, err := s.tasks.ListCompleted(ctx, now.AddDate(0, 0, -2))
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}

	b := &Briefing{}
	for i, t := range pending {
		if i == briefingPendingLimit {
			break
		}
		b.PendingTitles = append(b.PendingTitles, t.Title)
	}
	sum := 0
	for _, t := range completed {
		if t.CompletionDate != yesterday {
			continue
		}
		b.CompletedYesterday++
		if t.SuccessScore != nil {
			sum += *t.SuccessScore
		} else {
			sum += briefingDefaultScore
		}
	}
	avg := "none"
	if b.CompletedYesterday > 0 {
		v := int(math.Round(float64(sum) / float64(b.CompletedYesterday)))
		b.AverageSuccess = &v
		avg = fmt.Sprint(v)
	}

	prompt := fmt.Sprintf(`Write a proactive, encouraging daily briefing for a parent.
Pending tasks today: %d.
Tasks completed yesterday: %d.
Average success score yesterday: %s.
Answer with a JSON object with string fields summary (a positive overview of today) and suggestion (one short, actionable way to support the child).`,
		len(b.PendingTitles), b.CompletedYesterday, avg)

	var answer struct {
		Summary    string `json:"summary"`
		Suggestion string `json:"suggestion"`
	}
	if err := s.generate(ctx, prompt, &answer); err != nil || answer.Summary == "" {
		if err != nil {
			log.Printf("[warn] daily briefing: %v", err)
		}
		b.Summary = fallbackBriefing
		b.Fallback = true
		return b, nil
	}
	b.Summary = answer.Summary
	b.Suggestion = answer.Suggestion
	return b, nil
}

func (s *ReportService) generate(ctx context.Context, prompt string, out any) error {
	if s.gen == nil {
		return fmt.Errorf("no report generator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	return s.gen.GenerateJSON(ctx, prompt, out)
}

func (s *ReportService) courseNames(ctx context.Context) (map[string]string, error) {
	courses, err := s.courses.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	names := make(map[string]string, len(courses))
	for _, c := range courses {
		names[c.ID] = c.Name
	}
	return names, nil
}

// PendingSummary renders the periodic parent digest as Telegram HTML.
func (s *ReportService) PendingSummary(ctx context.Context, now time.Time) (string, error) {
	pending, err := s.tasks.ListPending(ctx)
	if err != nil {
		return "", err
	}
	names, err := s.courseNames(ctx)
	if err != nil {
		return "", err
	}
	points, err := s.tasks.Points(ctx)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Study summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("02.01.2006")))

	builder.WriteString("🔥 <b>Pending tasks</b>\n")
	if len(pending) == 0 {
		builder.WriteString("— nothing pending\n")
	} else {
		for _, task := range pending {
			builder.WriteString(formatTask(task, names, now))
		}
	}
	builder.WriteString(fmt.Sprintf("\n⭐ Points: <b>%d</b>\n", points))
	return strings.TrimSpace(builder.String()), nil
}

func formatTask(task model.Task, courseNames map[string]string, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		switch {
		case now.After(d):
			icon = "⚠️"
		case d.Sub(now) <= 48*time.Hour:
			icon = "⏳"
		}
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s %s", icon, title))

	if name := strings.TrimSpace(courseNames[task.CourseID]); name != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
	}
	sb.WriteString(fmt.Sprintf("\n   ⏱ %d min · %s", task.PlannedDuration, taskTypeLabel(task)))

	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s — <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · ≈%d days left", d.Format("2006-01-02"), daysLeft))
		}
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}

func taskTypeLabel(task model.Task) string {
	switch task.Type {
	case model.TaskTypeQuestions:
		return fmt.Sprintf("%d questions", task.QuestionCount)
	case model.TaskTypeReading:
		if task.BookTitle != "" {
			return "reading: " + html.EscapeString(task.BookTitle)
		}
		return "reading"
	default:
		if task.SelfAssigned {
			return "free study"
		}
		return "study"
	}
}
