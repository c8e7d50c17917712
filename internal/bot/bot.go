package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"edu-tracker/internal/model"
	"edu-tracker/internal/repository"
	"edu-tracker/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageCourse
	stageType
	stageTitle
	stagePlanned
	stageQuestionCount
	stageBookTitle
	stageDueDate
	stageCorrect
	stageIncorrect
	stageEmpty
	stagePages
	stageImport
)

type conversationState struct {
	stage  conversationStage
	input  service.TaskInput
	taskID string
	finish model.Completion
}

type confirmationAction int

const (
	actionDeleteTask confirmationAction = iota
	actionDeleteCourse
	actionDeleteReward
	actionDiscardSession
)

type confirmationRequest struct {
	id     string
	label  string
	action confirmationAction
}

// telegramAPI is the part of *tgbotapi.BotAPI the bot talks to.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// PINChecker unlocks the parent role.
type PINChecker interface {
	CheckPIN(pin string) error
}

type Deps struct {
	Users    *repository.UserRepository
	Tasks    *service.TaskService
	Courses  *service.CourseService
	Rewards  *service.RewardService
	Badges   *service.BadgeService
	Reports  *service.ReportService
	Backup   *service.BackupService
	Sessions *service.SessionService
	Sync     *service.SyncService
	Events   *service.Events
	PIN      PINChecker
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api  telegramAPI
	deps Deps
	http *http.Client
	now  func() time.Time

	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	// sessionChats remembers where each running session is shown.
	sessionChats map[string]int64
	mu           sync.Mutex
}

func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)
	return newBot(api, deps), nil
}

func newBot(api telegramAPI, deps Deps) *Bot {
	b := &Bot{
		api:           api,
		deps:          deps,
		http:          &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
		sessionChats:  make(map[string]int64),
	}
	deps.Sessions.OnRemoved(b.sessionRemoved)
	if deps.Events != nil {
		deps.Events.OnTaskCompleted(b.notifyCompleted)
		deps.Events.OnBadgesAwarded(b.notifyBadges)
	}
	return b
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}

	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			log.Printf("handle callback: %v", err)
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			log.Printf("handle message: %v", err)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		return b.cancelDialog(ctx, msg)
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s", msg.From.ID, msg.Command())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		log.Printf("[info] conversation step %d from %d", b.getConversation(msg.From.ID).stage, msg.From.ID)
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Try /tasks to see your tasks or /help for all commands.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(ctx, msg)
	case "unlock":
		return b.handleUnlock(ctx, msg)
	case "child":
		return b.handleChild(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "study":
		return b.handleStudy(ctx, msg)
	case "rewards":
		return b.handleRewards(ctx, msg)
	case "badges":
		return b.handleBadges(ctx, msg)
	case "points":
		return b.handlePoints(ctx, msg)
	case "cancel":
		return b.cancelDialog(ctx, msg)
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if !user.IsParent() {
		return b.sendText(msg.Chat.ID, "🔒 This command is for parents. Unlock with /unlock &lt;pin&gt;.")
	}

	switch msg.Command() {
	case "courses":
		return b.handleCourses(ctx, msg)
	case "addcourse":
		return b.handleAddCourse(ctx, msg)
	case "delcourse":
		return b.handleDeleteCourse(ctx, msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "addreward":
		return b.handleAddReward(ctx, msg)
	case "performance":
		return b.handlePerformance(ctx, msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "briefing":
		return b.handleBriefing(ctx, msg)
	case "summary":
		return b.handleSummary(ctx, msg)
	case "export":
		return b.handleExport(ctx, msg)
	case "import":
		return b.startImport(msg)
	case "sync":
		return b.handleSync(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. Check /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "friend"
	}

	text := fmt.Sprintf("👋 Hi, %s!\n<b>I keep track of study sessions, points and rewards.</b>\n\n%s",
		escape(name), helpText(user.Role))
	if err := b.sendText(msg.Chat.ID, text); err != nil {
		return err
	}
	return b.offerRecovery(ctx, msg.Chat.ID)
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Commands</b>\n"+helpText(user.Role))
}

func helpText(role model.Role) string {
	text := "• /tasks — pending tasks, start one with a button\n" +
		"• /study &lt;minutes&gt; &lt;course&gt; — free study session\n" +
		"• /rewards — rewards and claiming\n" +
		"• /badges — earned badges\n" +
		"• /points — success points\n" +
		"• /cancel — cancel the current input\n"
	if role != model.RoleParent {
		return text + "• /unlock &lt;pin&gt; — switch to the parent role"
	}
	return text +
		"\n<b>Parent</b>\n" +
		"• /courses, /addcourse &lt;name&gt;, /delcourse &lt;name&gt;\n" +
		"• /newtask — assign a task step by step\n" +
		"• /addreward &lt;cost&gt; &lt;name&gt;\n" +
		"• /performance — per-course totals\n" +
		"• /report [weekly|monthly|yearly|all] — AI report\n" +
		"• /briefing — daily briefing\n" +
		"• /summary — pending tasks digest\n" +
		"• /export, /import — JSON backup\n" +
		"• /sync — cloud backup status\n" +
		"• /child — lock back to the child role"
}

func (b *Bot) handleUnlock(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	pin := strings.TrimSpace(msg.CommandArguments())
	if pin == "" {
		return b.sendText(msg.Chat.ID, "Send the PIN with the command: /unlock 1234")
	}
	if err := b.deps.PIN.CheckPIN(pin); err != nil {
		log.Printf("[warn] wrong parent PIN from %d", msg.From.ID)
		return b.sendText(msg.Chat.ID, "❌ Wrong PIN.")
	}
	if err := b.deps.Users.SetRole(ctx, msg.From.ID, model.RoleParent); err != nil {
		return err
	}
	log.Printf("[info] user %d unlocked parent role", msg.From.ID)
	return b.sendText(msg.Chat.ID, "🔓 Parent mode on.\n"+helpText(model.RoleParent))
}

func (b *Bot) handleChild(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	if err := b.deps.Users.SetRole(ctx, msg.From.ID, model.RoleChild); err != nil {
		return err
	}
	b.clearConversation(msg.From.ID)
	b.clearConfirmation(msg.From.ID)
	return b.sendText(msg.Chat.ID, "🔒 Child mode on. Use /unlock &lt;pin&gt; to get parent commands back.")
}

// cancelDialog drops any input in progress. A pending finish goes back to
// the running timer.
func (b *Bot) cancelDialog(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	b.clearConversation(msg.From.ID)
	b.clearConfirmation(msg.From.ID)
	if state != nil && state.taskID != "" {
		if err := b.deps.Sessions.CancelFinish(ctx, state.taskID); err != nil && !errors.Is(err, service.ErrNoActiveSession) {
			log.Printf("[warn] cancel finish %s: %v", state.taskID, err)
		}
		if err := b.sendTextWithRemove(msg.Chat.ID, "⏪ Back to the timer."); err != nil {
			return err
		}
		return b.sendSessionMessage(ctx, msg.Chat.ID, state.taskID)
	}
	return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.runConfirmed(ctx, msg.Chat.ID, req)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Confirm or cancel.", confirmKeyboard())
	}
}

func (b *Bot) askConfirmation(chatID, userID int64, req confirmationRequest, question string) error {
	b.setConfirmation(userID, req)
	return b.sendWithReplyMarkup(chatID, question, confirmKeyboard())
}

func (b *Bot) runConfirmed(ctx context.Context, chatID int64, req confirmationRequest) error {
	var (
		err  error
		done string
	)
	switch req.action {
	case actionDeleteTask:
		err = b.deps.Tasks.DeleteTask(ctx, req.id)
		done = fmt.Sprintf("🗑 Task «%s» deleted.", escape(req.label))
	case actionDeleteCourse:
		err = b.deps.Courses.DeleteCourse(ctx, req.id)
		done = fmt.Sprintf("🗑 Course «%s» and its tasks deleted.", escape(req.label))
	case actionDeleteReward:
		err = b.deps.Rewards.DeleteReward(ctx, req.id)
		done = fmt.Sprintf("🗑 Reward «%s» deleted.", escape(req.label))
	case actionDiscardSession:
		err = b.deps.Sessions.Discard(ctx, req.id)
		b.forgetSessionChat(req.id)
		done = fmt.Sprintf("✖️ Session for «%s» discarded. The task stays pending.", escape(req.label))
	}
	if err != nil {
		return b.sendTextWithRemove(chatID, userMessage(err))
	}
	return b.sendTextWithRemove(chatID, done)
}

// SendSummaries sends the pending-task digest to every parent.
func (b *Bot) SendSummaries(ctx context.Context) error {
	text, err := b.deps.Reports.PendingSummary(ctx, b.now())
	if err != nil {
		return fmt.Errorf("build summary: %w", err)
	}
	return b.broadcast(ctx, model.RoleParent, text)
}

// SendBriefings sends the daily briefing to every parent.
func (b *Bot) SendBriefings(ctx context.Context) error {
	briefing, err := b.deps.Reports.DailyBriefing(ctx)
	if err != nil {
		return fmt.Errorf("build briefing: %w", err)
	}
	return b.broadcast(ctx, model.RoleParent, formatBriefing(briefing))
}

func (b *Bot) broadcast(ctx context.Context, role model.Role, text string) error {
	users, err := b.deps.Users.ListByRole(ctx, role)
	if err != nil {
		return err
	}
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			log.Printf("send to %d: %v", user.TelegramID, err)
		}
	}
	return nil
}

func (b *Bot) notifyCompleted(ctx context.Context, ev service.TaskCompleted) {
	text := fmt.Sprintf("✅ <b>%s</b> completed\n%s", escape(ev.Task.Title), formatScores(ev.Task))
	if err := b.broadcast(ctx, model.RoleParent, text); err != nil {
		log.Printf("[warn] notify completion: %v", err)
	}
}

func (b *Bot) notifyBadges(ctx context.Context, ev service.BadgesAwarded) {
	var sb strings.Builder
	sb.WriteString("🏅 <b>New badge!</b>\n")
	for _, badge := range ev.Badges {
		sb.WriteString(fmt.Sprintf("• <b>%s</b> — %s\n", escape(badge.Name), escape(badge.Description)))
	}
	if err := b.broadcast(ctx, model.RoleChild, strings.TrimSpace(sb.String())); err != nil {
		log.Printf("[warn] notify badges: %v", err)
	}
}

// sessionRemoved runs when a running session finds its task deleted.
func (b *Bot) sessionRemoved(taskID string) {
	chatID, ok := b.forgetSessionChat(taskID)
	if !ok {
		return
	}
	for userID := range b.conversationsFor(taskID) {
		b.clearConversation(userID)
	}
	if err := b.sendTextWithRemove(chatID, "⚠️ This task was deleted, so its timer has stopped."); err != nil {
		log.Printf("[warn] send removal notice: %v", err)
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.deps.Users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Main menu")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		log.Printf("callback ack: %v", err)
	}
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func (b *Bot) conversationsFor(taskID string) map[int64]*conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]*conversationState)
	for userID, state := range b.conversations {
		if state.taskID == taskID {
			out[userID] = state
		}
	}
	return out
}

func (b *Bot) setSessionChat(taskID string, chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionChats[taskID] = chatID
}

func (b *Bot) forgetSessionChat(taskID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chatID, ok := b.sessionChats[taskID]
	delete(b.sessionChats, taskID)
	return chatID, ok
}

// userMessage turns service errors into something a child or parent can read.
func userMessage(err error) string {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return "⚠️ " + escape(verr.Error())
	case errors.Is(err, service.ErrTaskNotFound):
		return "Task not found or already deleted."
	case errors.Is(err, service.ErrTaskAlreadyCompleted):
		return "This task is already completed."
	case errors.Is(err, service.ErrCourseNotFound):
		return "Course not found."
	case errors.Is(err, service.ErrRewardNotFound):
		return "Reward not found."
	case errors.Is(err, service.ErrInsufficientPoints):
		return "😕 Not enough points yet."
	case errors.Is(err, service.ErrSessionActive):
		return "Another session is already running. Finish or discard it first."
	case errors.Is(err, service.ErrNoActiveSession):
		return "This session is not running anymore."
	case errors.Is(err, service.ErrMalformedBackup):
		return "❌ The backup file is not valid, nothing was changed.\n" + escape(err.Error())
	default:
		log.Printf("[warn] %v", err)
		return "Something went wrong: " + escape(err.Error())
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}
