package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-tracker/internal/model"
	"edu-tracker/internal/timer"
)

func TestAddTaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.course(t, "Fizik")

	tests := []struct {
		name  string
		input TaskInput
		want  error
		field string
	}{
		{name: "blank title", input: TaskInput{CourseID: c.ID, Title: "   ", Type: model.TaskTypeStudy, PlannedDuration: 10}, want: ErrInvalidInput, field: "title"},
		{name: "zero duration", input: TaskInput{CourseID: c.ID, Title: "x", Type: model.TaskTypeStudy}, want: ErrInvalidInput, field: "plannedDuration"},
		{name: "unknown type", input: TaskInput{CourseID: c.ID, Title: "x", Type: "essay", PlannedDuration: 10}, want: ErrInvalidInput, field: "taskType"},
		{name: "questions without count", input: TaskInput{CourseID: c.ID, Title: "x", Type: model.TaskTypeQuestions, PlannedDuration: 10}, want: ErrInvalidInput, field: "questionCount"},
		{name: "unknown course", input: TaskInput{CourseID: "nope", Title: "x", Type: model.TaskTypeStudy, PlannedDuration: 10}, want: ErrCourseNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tasks.AddTask(ctx, tt.input)
			require.ErrorIs(t, err, tt.want)
			if tt.field != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Fields, tt.field)
			}
		})
	}

	pending, err := f.tasks.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAddTaskDefaults(t *testing.T) {
	f := newFixture(t)
	c := f.course(t, "Fizik")
	task := f.studyTask(t, c.ID, 25)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.False(t, task.SelfAssigned)
	assert.Nil(t, task.StartedAt)

	free, err := f.tasks.AddSelfAssigned(context.Background(), c.ID, "Extra reading", 15)
	require.NoError(t, err)
	assert.True(t, free.SelfAssigned)
	assert.Equal(t, model.TaskTypeStudy, free.Type)
}

func TestStartTaskRecordsTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.studyTask(t, f.course(t, "Fizik").ID, 25)

	started, err := f.tasks.StartTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.True(t, started.StartedAt.Equal(f.clock))
	assert.Equal(t, model.StatusPending, started.Status)

	_, err = f.tasks.StartTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCompleteStudyTaskOnPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.course(t, "Fizik")
	task := f.studyTask(t, c.ID, 30)
	require.NoError(t, f.store.Set(ctx, task.ID, timer.Snapshot{MainTime: 1800, Phase: timer.PhaseRunning}))

	var got []TaskCompleted
	f.events.OnTaskCompleted(func(_ context.Context, ev TaskCompleted) { got = append(got, ev) })

	done, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1800})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.Equal(t, 100, *done.SuccessScore)
	assert.Equal(t, 100, *done.FocusScore)
	assert.Equal(t, 43, done.PointsAwarded)
	assert.Equal(t, "2025-03-14", done.CompletionDate)

	points, err := f.tasks.Points(ctx)
	require.NoError(t, err)
	assert.Equal(t, 43, points)

	perf, err := f.tasks.Performance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, 30, perf[0].TimeSpent)

	_, ok, _ := f.store.Get(ctx, task.ID)
	assert.False(t, ok, "snapshot removed on completion")

	require.Len(t, got, 1)
	assert.Equal(t, task.ID, got[0].Task.ID)
	assert.Equal(t, 43, got[0].Points)
}

func TestCompleteQuestionTaskUpdatesAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.course(t, "Matematik")
	task := f.questionTask(t, c.ID, 10, 10)

	done, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{
		ActualDuration: 600,
		CorrectCount:   intPtr(8),
		IncorrectCount: intPtr(2),
		EmptyCount:     intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 80, *done.SuccessScore)
	assert.Equal(t, 12, done.PointsAwarded)
	assert.Equal(t, 8, done.CorrectCount)

	perf, err := f.tasks.Performance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, model.Performance{CourseID: c.ID, CourseName: "Matematik", Correct: 8, Incorrect: 2, TimeSpent: 10}, perf[0])
}

func TestCompleteReadingTaskSkipsAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.course(t, "Edebiyat")
	task, err := f.tasks.AddTask(ctx, TaskInput{CourseID: c.ID, Title: "Novel", Type: model.TaskTypeReading, PlannedDuration: 20, BookTitle: "Momo"})
	require.NoError(t, err)

	done, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1200, PagesRead: intPtr(15)})
	require.NoError(t, err)
	assert.Equal(t, 15, done.PagesRead)
	// 20 × 1.2 × 1.2 + 15 pages
	assert.Equal(t, 44, done.PointsAwarded)

	perf, err := f.tasks.Performance(ctx)
	require.NoError(t, err)
	assert.Zero(t, perf[0].TimeSpent)
}

func TestCompleteMissingTaskChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.CompleteTask(ctx, "ghost", model.Completion{ActualDuration: 60})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	points, err := f.tasks.Points(ctx)
	require.NoError(t, err)
	assert.Zero(t, points)
}

func TestCompleteRejectsNegativeCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.course(t, "Fizik")
	task := f.studyTask(t, c.ID, 30)

	_, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: -6000})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "actualDuration")

	_, err = f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 600, BreakTime: -600})
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	points, err := f.tasks.Points(ctx)
	require.NoError(t, err)
	assert.Zero(t, points)

	perf, err := f.tasks.Performance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Zero(t, perf[0].TimeSpent)
}

func TestCompletionDateFollowsUTC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock = time.Date(2025, 3, 15, 1, 30, 0, 0, time.FixedZone("TRT", 3*60*60))
	c := f.course(t, "Fizik")
	task := f.studyTask(t, c.ID, 30)

	done, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1800})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", done.CompletionDate)
	assert.Equal(t, "2025-03-14", done.CompletedAt.Format(model.CompletionDateLayout))
}

func TestCompleteTwiceAwardsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.studyTask(t, f.course(t, "Fizik").ID, 30)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 1800})
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, err := range errs {
		if err == nil {
			okCount++
			continue
		}
		assert.ErrorIs(t, err, ErrTaskAlreadyCompleted)
	}
	assert.Equal(t, 1, okCount)

	points, err := f.tasks.Points(ctx)
	require.NoError(t, err)
	assert.Equal(t, 43, points)
}

func TestZeroScoresAreStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.studyTask(t, f.course(t, "Fizik").ID, 10)

	done, err := f.tasks.CompleteTask(ctx, task.ID, model.Completion{ActualDuration: 3600, PauseTime: 3600})
	require.NoError(t, err)
	require.NotNil(t, done.FocusScore)
	assert.Equal(t, 0, *done.FocusScore)

	stored, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SuccessScore)
	assert.Equal(t, 0, *stored.SuccessScore)
}

func TestDeleteTaskPurgesSnapshotAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.studyTask(t, f.course(t, "Fizik").ID, 10)
	require.NoError(t, f.store.Set(ctx, task.ID, timer.Snapshot{MainTime: 30, Phase: timer.PhaseRunning}))

	var deleted []string
	f.events.OnTaskDeleted(func(_ context.Context, ev TaskDeleted) { deleted = append(deleted, ev.TaskID) })

	require.NoError(t, f.tasks.DeleteTask(ctx, task.ID))
	_, ok, _ := f.store.Get(ctx, task.ID)
	assert.False(t, ok)
	assert.Equal(t, []string{task.ID}, deleted)

	exists, err := f.tasks.Exists(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, f.tasks.DeleteTask(ctx, task.ID), ErrTaskNotFound)
}

func TestCheckFinishInput(t *testing.T) {
	questions := model.Task{Type: model.TaskTypeQuestions, QuestionCount: 10}
	reading := model.Task{Type: model.TaskTypeReading}
	study := model.Task{Type: model.TaskTypeStudy}

	tests := []struct {
		name    string
		task    model.Task
		in      model.Completion
		wantErr bool
	}{
		{name: "counts add up", task: questions, in: model.Completion{CorrectCount: intPtr(7), IncorrectCount: intPtr(2), EmptyCount: intPtr(1)}},
		{name: "counts short", task: questions, in: model.Completion{CorrectCount: intPtr(7), IncorrectCount: intPtr(2), EmptyCount: intPtr(0)}, wantErr: true},
		{name: "counts missing", task: questions, in: model.Completion{CorrectCount: intPtr(10)}, wantErr: true},
		{name: "negative count", task: questions, in: model.Completion{CorrectCount: intPtr(12), IncorrectCount: intPtr(-2), EmptyCount: intPtr(0)}, wantErr: true},
		{name: "pages read", task: reading, in: model.Completion{PagesRead: intPtr(3)}},
		{name: "no pages", task: reading, in: model.Completion{PagesRead: intPtr(0)}, wantErr: true},
		{name: "pages missing", task: reading, in: model.Completion{}, wantErr: true},
		{name: "study needs nothing", task: study, in: model.Completion{}},
		{name: "negative duration", task: study, in: model.Completion{ActualDuration: -6000}, wantErr: true},
		{name: "negative break", task: study, in: model.Completion{ActualDuration: 600, BreakTime: -600}, wantErr: true},
		{name: "negative pause", task: study, in: model.Completion{PauseTime: -1}, wantErr: true},
		{name: "negative pages on study", task: study, in: model.Completion{PagesRead: intPtr(-4)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFinishInput(tt.task, tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
