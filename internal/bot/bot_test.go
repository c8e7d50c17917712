package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edu-tracker/internal/auth"
	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
	"edu-tracker/internal/service"
	"edu-tracker/internal/timer"
)

const (
	parentID int64 = 100
	childID  int64 = 200
)

type sentMessage struct {
	chatID int64
	text   string
	markup interface{}
	doc    bool
}

type fakeAPI struct {
	mu      sync.Mutex
	sent    []sentMessage
	fileURL string
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, sentMessage{chatID: m.ChatID, text: m.Text, markup: m.ReplyMarkup})
	case tgbotapi.EditMessageTextConfig:
		f.sent = append(f.sent, sentMessage{chatID: m.ChatID, text: m.Text, markup: m.ReplyMarkup})
	case tgbotapi.DocumentConfig:
		f.sent = append(f.sent, sentMessage{chatID: m.ChatID, text: m.Caption, doc: true})
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) {
	return f.fileURL, nil
}

// textsFor returns every text sent to chatID, oldest first.
func (f *fakeAPI) textsFor(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

func (f *fakeAPI) sawText(chatID int64, substr string) bool {
	for _, text := range f.textsFor(chatID) {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

func (f *fakeAPI) lastMarkup(chatID int64) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chatID == chatID && f.sent[i].markup != nil {
			return f.sent[i].markup
		}
	}
	return nil
}

type fixture struct {
	bot     *Bot
	api     *fakeAPI
	tasks   *service.TaskService
	courses *service.CourseService
	store   *timer.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(t.TempDir(), "bot.db"))
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
	badges := service.NewBadgeService(db, events, service.DefaultMasteryCourse)

	ctx, cancel := context.WithCancel(context.Background())
	sessions := service.NewSessionService(ctx, tasks, store, events, timer.WithInterval(time.Hour))
	t.Cleanup(func() {
		sessions.Shutdown()
		cancel()
	})

	guard, err := auth.NewGuard("1234", "", 0)
	require.NoError(t, err)

	api := &fakeAPI{}
	b := newBot(api, Deps{
		Users:    repository.NewUserRepository(db),
		Tasks:    tasks,
		Courses:  courses,
		Rewards:  service.NewRewardService(tasks),
		Badges:   badges,
		Reports:  service.NewReportService(tasks, courses, nil),
		Backup:   backup,
		Sessions: sessions,
		Sync:     service.NewSyncService(backup, nil, events),
		Events:   events,
		PIN:      guard,
	})
	return &fixture{bot: b, api: api, tasks: tasks, courses: courses, store: store}
}

func message(userID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Ada"},
		Chat: &tgbotapi.Chat{ID: userID, Type: "private"},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func (f *fixture) say(userID int64, text string) {
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: message(userID, text)})
}

func (f *fixture) tap(userID int64, data string) {
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: userID, Type: "private"}},
		Data:    data,
	}})
}

func (f *fixture) unlockParent(t *testing.T) {
	t.Helper()
	f.say(parentID, "/unlock 1234")
	require.True(t, f.api.sawText(parentID, "Parent mode on"))
}

func (f *fixture) questionTask(t *testing.T) *model.Task {
	t.Helper()
	ctx := context.Background()
	course, err := f.courses.AddCourse(ctx, service.CourseInput{Name: "Matematik"})
	require.NoError(t, err)
	task, err := f.tasks.AddTask(ctx, service.TaskInput{
		CourseID:        course.ID,
		Title:           "Fractions",
		Type:            model.TaskTypeQuestions,
		PlannedDuration: 20,
		QuestionCount:   10,
	})
	require.NoError(t, err)
	return task
}

func TestParentCommandsNeedUnlock(t *testing.T) {
	f := newFixture(t)

	f.say(childID, "/newtask")
	assert.True(t, f.api.sawText(childID, "for parents"))

	f.say(childID, "/unlock 9999")
	assert.True(t, f.api.sawText(childID, "Wrong PIN"))

	f.unlockParent(t)
	f.say(parentID, "/addcourse Fizik")
	assert.True(t, f.api.sawText(parentID, "Course «Fizik» added"))

	f.say(parentID, "/child")
	f.say(parentID, "/addcourse Kimya")
	assert.False(t, f.api.sawText(parentID, "Kimya"))
}

func TestNewTaskConversation(t *testing.T) {
	f := newFixture(t)
	f.unlockParent(t)
	f.say(parentID, "/addcourse Matematik")

	for _, text := range []string{"/newtask", "Matematik", btnTypeQuestions, "Fractions", "25", "12", "2025-11-30"} {
		f.say(parentID, text)
	}
	assert.True(t, f.api.sawText(parentID, "Task saved"))

	pending, err := f.tasks.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Fractions", pending[0].Title)
	assert.Equal(t, model.TaskTypeQuestions, pending[0].Type)
	assert.Equal(t, 25, pending[0].PlannedDuration)
	assert.Equal(t, 12, pending[0].QuestionCount)
	require.NotNil(t, pending[0].DueDate)
	assert.Equal(t, "2025-11-30", pending[0].DueDate.Format("2006-01-02"))
}

func TestNewTaskConversationRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.unlockParent(t)
	f.say(parentID, "/addcourse Matematik")

	f.say(parentID, "/newtask")
	f.say(parentID, "Biology")
	assert.True(t, f.api.sawText(parentID, "Pick one of the courses"))
	f.say(parentID, "Matematik")
	f.say(parentID, btnTypeStudy)
	f.say(parentID, "Notes")
	f.say(parentID, "soon")
	assert.True(t, f.api.sawText(parentID, "positive number"))
	f.say(parentID, btnCancelDialog)

	pending, err := f.tasks.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSessionFinishFlow(t *testing.T) {
	f := newFixture(t)
	f.unlockParent(t)
	f.say(childID, "/start")
	task := f.questionTask(t)

	f.tap(childID, callbackData(cbStart, task.ID))
	assert.True(t, f.api.sawText(childID, "⏱ <b>Fractions</b>"))

	f.tap(childID, callbackData(cbPause, task.ID))
	assert.True(t, f.api.sawText(childID, "paused"))
	f.tap(childID, callbackData(cbContinue, task.ID))

	f.tap(childID, callbackData(cbFinish, task.ID))
	assert.True(t, f.api.sawText(childID, "How many of the 10 questions"))

	for _, n := range []string{"5", "2", "1"} {
		f.say(childID, n)
	}
	assert.True(t, f.api.sawText(childID, "add up to 10"))

	for _, n := range []string{"7", "2", "1"} {
		f.say(childID, n)
	}
	assert.True(t, f.api.sawText(childID, "Fractions</b> done!"))

	done, err := f.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted())
	assert.Equal(t, 7, done.CorrectCount)

	assert.True(t, f.api.sawText(parentID, "Fractions</b> completed"))
	assert.True(t, f.api.sawText(childID, "New badge!"))
}

func TestCancelFinishReturnsToTimer(t *testing.T) {
	f := newFixture(t)
	task := f.questionTask(t)

	f.tap(childID, callbackData(cbStart, task.ID))
	f.tap(childID, callbackData(cbFinish, task.ID))
	f.say(childID, btnCancelDialog)
	assert.True(t, f.api.sawText(childID, "Back to the timer"))

	d, ok := f.bot.deps.Sessions.Driver(task.ID)
	require.True(t, ok)
	assert.False(t, d.Finishing())
}

func TestDeletedTaskStopsSession(t *testing.T) {
	f := newFixture(t)
	task := f.questionTask(t)

	f.tap(childID, callbackData(cbStart, task.ID))
	require.NoError(t, f.tasks.DeleteTask(context.Background(), task.ID))

	require.Eventually(t, func() bool {
		return f.api.sawText(childID, "was deleted")
	}, time.Second, 10*time.Millisecond)
	_, ok := f.bot.deps.Sessions.Driver(task.ID)
	assert.False(t, ok)
}

func TestRecoveryPrompt(t *testing.T) {
	f := newFixture(t)
	task := f.questionTask(t)
	require.NoError(t, f.store.Set(context.Background(), task.ID, timer.Snapshot{MainTime: 125, Phase: timer.PhaseRunning}))

	f.say(childID, "/start")
	assert.True(t, f.api.sawText(childID, "unfinished session was found for «Fractions» (02:05 studied)"))

	f.tap(childID, callbackData(cbResume, task.ID))
	d, ok := f.bot.deps.Sessions.Driver(task.ID)
	require.True(t, ok)
	assert.Equal(t, 125, d.Snapshot().MainTime)
}

func TestDropLeavesResumedSessionRunning(t *testing.T) {
	f := newFixture(t)
	task := f.questionTask(t)
	require.NoError(t, f.store.Set(context.Background(), task.ID, timer.Snapshot{MainTime: 125, Phase: timer.PhaseRunning}))

	f.say(childID, "/start")
	f.tap(childID, callbackData(cbResume, task.ID))
	f.tap(childID, callbackData(cbDrop, task.ID))
	assert.True(t, f.api.sawText(childID, "already running"))

	_, ok := f.bot.deps.Sessions.Driver(task.ID)
	assert.True(t, ok)
	_, ok, err := f.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDropDiscardsUnresumedSnapshot(t *testing.T) {
	f := newFixture(t)
	task := f.questionTask(t)
	require.NoError(t, f.store.Set(context.Background(), task.ID, timer.Snapshot{MainTime: 125, Phase: timer.PhaseRunning}))

	f.say(childID, "/start")
	f.tap(childID, callbackData(cbDrop, task.ID))
	assert.True(t, f.api.sawText(childID, "unfinished session was discarded"))

	_, ok, err := f.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimRewardNeedsPoints(t *testing.T) {
	f := newFixture(t)
	f.unlockParent(t)
	f.say(parentID, "/addreward 300 Cinema night")
	assert.True(t, f.api.sawText(parentID, "Reward «Cinema night» added for 300 points"))

	rewards, err := f.bot.deps.Rewards.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 1)

	f.tap(childID, callbackData(cbClaim, rewards[0].ID))
	assert.True(t, f.api.sawText(childID, "Not enough points"))
}

func TestDeleteTaskNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.unlockParent(t)
	task := f.questionTask(t)

	f.tap(childID, callbackData(cbDelTask, task.ID))
	assert.True(t, f.api.sawText(childID, "Only parents"))

	f.tap(parentID, callbackData(cbDelTask, task.ID))
	assert.True(t, f.api.sawText(parentID, "Delete task «Fractions»?"))
	assert.IsType(t, tgbotapi.ReplyKeyboardMarkup{}, f.api.lastMarkup(parentID))

	f.say(parentID, btnConfirm)
	ok, err := f.tasks.Exists(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExportAndImport(t *testing.T) {
	f := newFixture(t)
	f.unlockParent(t)
	f.questionTask(t)

	f.say(parentID, "/export")
	f.api.mu.Lock()
	var exported bool
	for _, m := range f.api.sent {
		exported = exported || m.doc
	}
	f.api.mu.Unlock()
	assert.True(t, exported)

	raw, err := f.bot.deps.Backup.ExportJSON(context.Background())
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()
	f.api.fileURL = srv.URL

	_, err = f.courses.AddCourse(context.Background(), service.CourseInput{Name: "Extra"})
	require.NoError(t, err)

	f.say(parentID, "/import")
	doc := message(parentID, "")
	doc.Document = &tgbotapi.Document{FileID: "file-1", FileName: "backup.json"}
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: doc})
	assert.True(t, f.api.sawText(parentID, "Backup imported"))

	courses, err := f.courses.List(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "Matematik", courses[0].Name)
}

func TestStudyStartsFreeSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.courses.AddCourse(context.Background(), service.CourseInput{Name: "Fizik"})
	require.NoError(t, err)

	f.say(childID, "/study 30 Fizik")
	assert.True(t, f.api.sawText(childID, "Free study: Fizik"))
	_, ok := f.bot.deps.Sessions.Active()
	assert.True(t, ok)

	f.say(childID, "/study 30 Fizik")
	assert.True(t, f.api.sawText(childID, "already running"))
}

func TestClock(t *testing.T) {
	assert.Equal(t, "00:00", clock(0))
	assert.Equal(t, "02:05", clock(125))
	assert.Equal(t, "1:00:01", clock(3601))
}
