package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-tracker/internal/auth"
	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
	"edu-tracker/internal/service"
	"edu-tracker/internal/timer"
)

type stubGenerator struct{}

func (stubGenerator) GenerateJSON(context.Context, string, any) error {
	return service.ErrInvalidInput
}

type testServer struct {
	handler http.Handler
	tasks   *service.TaskService
	parent  string
	child   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	events := service.NewEvents()
	store := timer.NewMemoryStore()
	tasks := service.NewTaskService(db, store, events)
	courses := service.NewCourseService(tasks)
	backup := service.NewBackupService(tasks)

	ctx, cancel := context.WithCancel(context.Background())
	sessions := service.NewSessionService(ctx, tasks, store, events, timer.WithInterval(time.Hour))
	t.Cleanup(func() {
		sessions.Shutdown()
		cancel()
	})

	guard, err := auth.NewGuard("2468", "test-secret", time.Hour)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Auth:     guard,
		Tasks:    tasks,
		Courses:  courses,
		Rewards:  service.NewRewardService(tasks),
		Badges:   service.NewBadgeService(db, events, service.DefaultMasteryCourse),
		Reports:  service.NewReportService(tasks, courses, stubGenerator{}),
		Backup:   backup,
		Sessions: sessions,
		Sync:     service.NewSyncService(backup, nil, events),
	})
	ts := &testServer{handler: srv.Handler(), tasks: tasks}

	ts.parent = ts.login(t, "/v1/auth/parent", map[string]string{"pin": "2468"})
	ts.child = ts.login(t, "/v1/auth/child", nil)
	return ts
}

func (ts *testServer) login(t *testing.T, path string, body interface{}) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data tokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// decode unwraps the envelope into data and returns the envelope flags.
func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) APIResponse {
	t.Helper()
	var env struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env.APIResponse
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestParentLoginRejectsWrongPIN(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/auth/parent", "", map[string]string{"pin": "0000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decode(t, rec, nil).Success)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/points", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/points", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/courses", ts.child, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/courses", ts.parent, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/courses", ts.parent, map[string]string{"name": "Matematik"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var course model.Course
	decode(t, rec, &course)

	rec = ts.do(t, http.MethodPost, "/v1/tasks", ts.parent, map[string]interface{}{
		"courseId":        course.ID,
		"title":           "Practice set",
		"taskType":        "question-solving",
		"plannedDuration": 20,
		"questionCount":   10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task model.Task
	decode(t, rec, &task)

	rec = ts.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/start", ts.child, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var started sessionResponse
	decode(t, rec, &started)
	assert.Equal(t, timer.PhaseRunning, started.Snapshot.Phase)
	assert.NotNil(t, started.Task.StartedAt)

	rec = ts.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/complete", ts.child, map[string]int{
		"correctCount": 5, "incorrectCount": 2, "emptyCount": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "counts must add up to questionCount")

	rec = ts.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/complete", ts.child, map[string]int{
		"correctCount": 8, "incorrectCount": 1, "emptyCount": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var done model.Task
	decode(t, rec, &done)
	assert.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.SuccessScore)
	assert.GreaterOrEqual(t, *done.SuccessScore, 80)

	rec = ts.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/complete", ts.child, map[string]int{
		"correctCount": 8, "incorrectCount": 1, "emptyCount": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/points", ts.child, nil)
	var points map[string]int
	decode(t, rec, &points)
	assert.Equal(t, done.PointsAwarded, points["points"])
	assert.Positive(t, points["points"])

	rec = ts.do(t, http.MethodGet, "/v1/tasks?status=completed", ts.parent, nil)
	var completed []model.Task
	decode(t, rec, &completed)
	assert.Len(t, completed, 1)

	rec = ts.do(t, http.MethodGet, "/v1/badges", ts.child, nil)
	var badges []model.Badge
	decode(t, rec, &badges)
	assert.NotEmpty(t, badges)
}

func TestValidationErrorsListFields(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/rewards", ts.parent, map[string]interface{}{"name": " ", "cost": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var fields map[string]string
	resp := decode(t, rec, &fields)
	assert.False(t, resp.Success)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "cost")
}

func TestClaimRewardWithoutPoints(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/rewards", ts.parent, map[string]interface{}{"name": "Cinema", "cost": 50})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reward model.Reward
	decode(t, rec, &reward)

	rec = ts.do(t, http.MethodPost, "/v1/rewards/"+reward.ID+"/claim", ts.child, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/rewards/missing/claim", ts.child, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportWithoutData(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/reports/weekly", ts.parent, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec, nil).Success)

	rec = ts.do(t, http.MethodGet, "/v1/reports/daily", ts.parent, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportImportRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/courses", ts.parent, map[string]string{"name": "Fizik"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/export", ts.parent, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var backup json.RawMessage
	decode(t, rec, &backup)

	rec = ts.do(t, http.MethodPost, "/v1/import", ts.parent, []byte(`{"courses": []}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/import", ts.parent, []byte(backup))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/courses", ts.parent, nil)
	var courses []model.Course
	decode(t, rec, &courses)
	require.Len(t, courses, 1)
	assert.Equal(t, "Fizik", courses[0].Name)
}

func TestDeleteUnknownTask(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodDelete, "/v1/tasks/nope", ts.parent, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteRejectsNegativeDurations(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/courses", ts.parent, map[string]string{"name": "Fizik"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var course model.Course
	decode(t, rec, &course)

	rec = ts.do(t, http.MethodPost, "/v1/tasks", ts.parent, map[string]interface{}{
		"courseId":        course.ID,
		"title":           "Forces",
		"taskType":        "study",
		"plannedDuration": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task model.Task
	decode(t, rec, &task)

	rec = ts.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/complete", ts.child, map[string]int{"actualDuration": -6000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var fields map[string]string
	assert.False(t, decode(t, rec, &fields).Success)
	assert.Contains(t, fields, "actualDuration")

	rec = ts.do(t, http.MethodPost, "/v1/tasks/"+task.ID+"/complete", ts.child, map[string]int{"actualDuration": 1800, "breakTime": -1800})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/points", ts.child, nil)
	var points map[string]int
	decode(t, rec, &points)
	assert.Zero(t, points["points"])

	rec = ts.do(t, http.MethodGet, "/v1/performance", ts.parent, nil)
	var perf []model.Performance
	decode(t, rec, &perf)
	require.Len(t, perf, 1)
	assert.Zero(t, perf[0].TimeSpent)
}
