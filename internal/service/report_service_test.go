package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-tracker/internal/model"
)

// fakeGenerator answers with a fixed JSON document or error and records prompts.
type fakeGenerator struct {
	answer  string
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateJSON(_ context.Context, prompt string, out any) error {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return g.err
	}
	return json.Unmarshal([]byte(g.answer), out)
}

func newReportFixture(t *testing.T, gen Generator) (*fixture, *ReportService) {
	f := newFixture(t)
	r := NewReportService(f.tasks, f.courses, gen)
	r.now = func() time.Time { return f.clock }
	return f, r
}

func TestReportNoData(t *testing.T) {
	gen := &fakeGenerator{}
	_, r := newReportFixture(t, gen)

	report, err := r.Report(context.Background(), PeriodWeekly)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Empty(t, gen.prompts)
}

func TestReportUnknownPeriod(t *testing.T) {
	_, r := newReportFixture(t, &fakeGenerator{})
	_, err := r.Report(context.Background(), "fortnightly")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReportUsesGenerator(t *testing.T) {
	gen := &fakeGenerator{answer: `{"summary":"Great week","mostImprovedCourse":"Fizik","needsFocusCourse":"Kimya","suggestion":"Practice daily"}`}
	f, r := newReportFixture(t, gen)
	ctx := context.Background()
	task := f.studyTask(t, f.course(t, "Fizik").ID, 30)
	_, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1800})
	require.NoError(t, err)

	report, err := r.Report(ctx, PeriodMonthly)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.False(t, report.Fallback)
	assert.Equal(t, 1, report.TaskCount)
	assert.Equal(t, "Fizik", report.MostImprovedCourse)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], `"course":"Fizik"`)
	assert.Contains(t, gen.prompts[0], `"timeSpentMinutes":30`)
}

func TestReportFallbacks(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{name: "generator error", gen: &fakeGenerator{err: errors.New("rate limited")}},
		{name: "missing fields", gen: &fakeGenerator{answer: `{"summary":"ok"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, r := newReportFixture(t, tt.gen)
			ctx := context.Background()
			task := f.studyTask(t, f.course(t, "Fizik").ID, 30)
			_, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1800})
			require.NoError(t, err)

			report, err := r.Report(ctx, PeriodAll)
			require.NoError(t, err)
			require.NotNil(t, report)
			assert.True(t, report.Fallback)
			assert.Equal(t, fallbackReportSummary, report.Summary)
		})
	}
}

func TestReportPeriodWindow(t *testing.T) {
	gen := &fakeGenerator{answer: `{"summary":"s","mostImprovedCourse":"a","needsFocusCourse":"b","suggestion":"c"}`}
	f, r := newReportFixture(t, gen)
	ctx := context.Background()
	task := f.studyTask(t, f.course(t, "Fizik").ID, 30)
	_, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1800})
	require.NoError(t, err)

	// ten days later the task falls out of the weekly window but not the monthly one
	f.clock = f.clock.AddDate(0, 0, 10)
	weekly, err := r.Report(ctx, PeriodWeekly)
	require.NoError(t, err)
	assert.Nil(t, weekly)

	monthly, err := r.Report(ctx, PeriodMonthly)
	require.NoError(t, err)
	assert.NotNil(t, monthly)
}

func TestDailyBriefing(t *testing.T) {
	gen := &fakeGenerator{answer: `{"summary":"Busy day ahead","suggestion":"Start with math"}`}
	f, r := newReportFixture(t, gen)
	ctx := context.Background()
	c := f.course(t, "Fizik")

	// two completions yesterday, one of them with a stored zero focus
	f.clock = f.clock.AddDate(0, 0, -1)
	a := f.studyTask(t, c.ID, 30)
	_, err := f.tasks.CompleteTask(ctx, a.ID, model.Completion{ActualDuration: 1800})
	require.NoError(t, err)
	b := f.studyTask(t, c.ID, 10)
	_, err = f.tasks.CompleteTask(ctx, b.ID, model.Completion{ActualDuration: 3600, PauseTime: 3600})
	require.NoError(t, err)
	f.clock = f.clock.AddDate(0, 0, 1)

	for i := 0; i < 7; i++ {
		f.studyTask(t, c.ID, 15)
	}

	briefing, err := r.DailyBriefing(ctx)
	require.NoError(t, err)
	assert.Len(t, briefing.PendingTitles, 5)
	assert.Equal(t, 2, briefing.CompletedYesterday)
	require.NotNil(t, briefing.AverageSuccess)
	assert.Equal(t, 50, *briefing.AverageSuccess)
	assert.Equal(t, "Busy day ahead", briefing.Summary)
	assert.False(t, briefing.Fallback)
	assert.Contains(t, gen.prompts[0], "Pending tasks today: 5.")
}

func TestDailyBriefingFallback(t *testing.T) {
	_, r := newReportFixture(t, &fakeGenerator{err: errors.New("network down")})

	briefing, err := r.DailyBriefing(context.Background())
	require.NoError(t, err)
	assert.True(t, briefing.Fallback)
	assert.Equal(t, fallbackBriefing, briefing.Summary)
	assert.Nil(t, briefing.AverageSuccess)
}

func TestPendingSummary(t *testing.T) {
	f, r := newReportFixture(t, nil)
	ctx := context.Background()
	c := f.course(t, "Fizik & Kimya")
	due := f.clock.Add(-time.Hour)
	_, err := f.tasks.AddTask(ctx, TaskInput{CourseID: c.ID, Title: "Lab <report>", Type: model.TaskTypeStudy, PlannedDuration: 20, DueDate: &due})
	require.NoError(t, err)

	text, err := r.PendingSummary(ctx, f.clock)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "📋 <b>Study summary</b>"))
	assert.Contains(t, text, "⚠️ Lab &lt;report&gt; <i>(Fizik &amp; Kimya)</i>")
	assert.Contains(t, text, "overdue")
	assert.Contains(t, text, "Points: <b>0</b>")
}
