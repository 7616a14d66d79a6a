package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inboxpilot/ai"
	"inboxpilot/config"
	"inboxpilot/mailbox"
	"inboxpilot/models"
	"inboxpilot/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		Email:     fmt.Sprintf("%s@example.com", t.Name()),
		Name:      "Dana",
		Signature: "Dana @ Studio North",
		Tone:      "friendly",
		IsActive:  true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func seedAccount(t *testing.T, db *gorm.DB, userID uint) *models.EmailAccount {
	t.Helper()
	account := &models.EmailAccount{
		UserID:              userID,
		Provider:            models.ProviderIMAP,
		Address:             "dana@studionorth.com",
		IsActive:            true,
		PollIntervalMinutes: 5,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

func seedClient(t *testing.T, db *gorm.DB, userID uint, address, name string) *models.ClientFilter {
	t.Helper()
	filter := &models.ClientFilter{
		UserID:       userID,
		EmailAddress: address,
		ClientName:   name,
		IsActive:     true,
	}
	if err := db.Create(filter).Error; err != nil {
		t.Fatalf("failed to seed client filter: %v", err)
	}
	return filter
}

// fakeMailbox serves canned messages keyed by account ID, or a single
// error for every account.
type fakeMailbox struct {
	mu       sync.Mutex
	messages map[uint][]mailbox.Message
	err      error
	errFor   map[uint]error
	calls    int
}

func (f *fakeMailbox) ListUnread(_ context.Context, account *models.EmailAccount) ([]mailbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err, ok := f.errFor[account.ID]; ok {
		return nil, err
	}
	return f.messages[account.ID], nil
}

type fakeGenerator struct {
	mu         sync.Mutex
	reply      *ai.Reply
	replyErr   error
	todos      []ai.TodoItem
	todosErr   error
	replyCalls int
}

func (f *fakeGenerator) GenerateReply(context.Context, string, ai.ReplyContext) (*ai.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyCalls++
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &ai.Reply{Subject: "Re: hello", Body: "Thanks for the note!", Signature: "Dana"}, nil
}

func (f *fakeGenerator) ExtractTodos(context.Context, string) ([]ai.TodoItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.todosErr != nil {
		return nil, f.todosErr
	}
	return f.todos, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []utils.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, _ uint, n utils.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

func newTestMonitor(db *gorm.DB, mbx mailbox.Client, gen ReplyGenerator, notifier Notifier) *Monitor {
	clients := mailbox.Registry{
		models.ProviderGmail: mbx,
		models.ProviderIMAP:  mbx,
	}
	return NewMonitor(db, clients, gen, notifier, log.New(io.Discard, "", 0), time.Minute)
}

func clientMessage(id string) mailbox.Message {
	return mailbox.Message{
		ProviderID: id,
		From:       "Alice Smith <alice@acme.com>",
		Subject:    "Logo feedback",
		Body:       "Love it! Can you send the final files by Friday?",
		Date:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestCheckUserNowCreatesDraft(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:100")},
	}}
	notifier := &fakeNotifier{}
	monitor := newTestMonitor(db, mbx, &fakeGenerator{}, notifier)

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	var record models.ProcessedMessage
	if err := db.Where("user_id = ? AND provider_message_id = ?", user.ID, "imap:100").First(&record).Error; err != nil {
		t.Fatalf("expected ledger record: %v", err)
	}
	if record.Status != models.MessageStatusDraftCreated {
		t.Errorf("status = %q, want %q", record.Status, models.MessageStatusDraftCreated)
	}
	if record.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	var draft models.Draft
	if err := db.Where("message_id = ?", record.ID).First(&draft).Error; err != nil {
		t.Fatalf("expected draft for message: %v", err)
	}
	if draft.Status != models.DraftStatusDraft {
		t.Errorf("draft status = %q, want %q", draft.Status, models.DraftStatusDraft)
	}

	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}

	// Account bookkeeping: last_checked_at advanced, last_error cleared.
	var refreshed models.EmailAccount
	if err := db.First(&refreshed, account.ID).Error; err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if refreshed.LastCheckedAt == nil {
		t.Error("LastCheckedAt not set after successful check")
	}
	if refreshed.LastError != nil {
		t.Errorf("LastError = %q, want nil", *refreshed.LastError)
	}
}

func TestMessageProcessedAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:200")},
	}}
	gen := &fakeGenerator{}
	monitor := newTestMonitor(db, mbx, gen, &fakeNotifier{})

	// Unread listings keep returning the message until the external flow
	// marks it read; two passes must still process it once.
	for i := 0; i < 2; i++ {
		if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
			t.Fatalf("pass %d returned error: %v", i, err)
		}
	}

	var count int64
	db.Model(&models.ProcessedMessage{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 1 {
		t.Errorf("ledger rows = %d, want 1", count)
	}
	var drafts int64
	db.Model(&models.Draft{}).Where("user_id = ?", user.ID).Count(&drafts)
	if drafts != 1 {
		t.Errorf("drafts = %d, want 1", drafts)
	}
	if gen.replyCalls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.replyCalls)
	}
}

func TestProjectIDFlowsThroughPipeline(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)

	projectID := uint(42)
	filter := seedClient(t, db, user.ID, "alice@acme.com", "Alice")
	if err := db.Model(filter).Update("project_id", projectID).Error; err != nil {
		t.Fatalf("failed to set project id on filter: %v", err)
	}

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:250")},
	}}
	gen := &fakeGenerator{todos: []ai.TodoItem{
		{Task: "Send final logo files", Confidence: 0.8},
	}}
	monitor := newTestMonitor(db, mbx, gen, &fakeNotifier{})

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	// The matched filter's project tag must land on every row the
	// pipeline writes for the message.
	var record models.ProcessedMessage
	if err := db.Where("provider_message_id = ?", "imap:250").First(&record).Error; err != nil {
		t.Fatalf("expected ledger record: %v", err)
	}
	if record.ProjectID == nil || *record.ProjectID != projectID {
		t.Errorf("message ProjectID = %v, want %d", record.ProjectID, projectID)
	}

	var draft models.Draft
	if err := db.Where("message_id = ?", record.ID).First(&draft).Error; err != nil {
		t.Fatalf("expected draft for message: %v", err)
	}
	if draft.ProjectID == nil || *draft.ProjectID != projectID {
		t.Errorf("draft ProjectID = %v, want %d", draft.ProjectID, projectID)
	}

	var todo models.ExtractedTodo
	if err := db.Where("message_id = ?", record.ID).First(&todo).Error; err != nil {
		t.Fatalf("expected extracted todo for message: %v", err)
	}
	if todo.ProjectID == nil || *todo.ProjectID != projectID {
		t.Errorf("todo ProjectID = %v, want %d", todo.ProjectID, projectID)
	}
}

func TestUnknownSenderIgnored(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	msg := clientMessage("imap:300")
	msg.From = "Random Vendor <sales@spammy.io>"
	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {msg},
	}}
	gen := &fakeGenerator{}
	monitor := newTestMonitor(db, mbx, gen, &fakeNotifier{})

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	var count int64
	db.Model(&models.ProcessedMessage{}).Count(&count)
	if count != 0 {
		t.Errorf("ledger rows = %d, want 0 for unmatched sender", count)
	}
	if gen.replyCalls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.replyCalls)
	}
}

func TestInactiveFilterIgnored(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	filter := seedClient(t, db, user.ID, "alice@acme.com", "Alice")
	if err := db.Model(filter).Update("is_active", false).Error; err != nil {
		t.Fatalf("failed to deactivate filter: %v", err)
	}

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:310")},
	}}
	monitor := newTestMonitor(db, mbx, &fakeGenerator{}, &fakeNotifier{})

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	var count int64
	db.Model(&models.ProcessedMessage{}).Count(&count)
	if count != 0 {
		t.Errorf("ledger rows = %d, want 0 for inactive filter", count)
	}
}

func TestGenerationFailureMarksError(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:400")},
	}}
	gen := &fakeGenerator{replyErr: errors.New("completion request returned 503")}
	notifier := &fakeNotifier{}
	monitor := newTestMonitor(db, mbx, gen, notifier)

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	var record models.ProcessedMessage
	if err := db.Where("provider_message_id = ?", "imap:400").First(&record).Error; err != nil {
		t.Fatalf("expected ledger record: %v", err)
	}
	if record.Status != models.MessageStatusError {
		t.Errorf("status = %q, want %q", record.Status, models.MessageStatusError)
	}
	if record.ErrorDetail == nil || *record.ErrorDetail == "" {
		t.Error("ErrorDetail not recorded")
	}

	var drafts int64
	db.Model(&models.Draft{}).Count(&drafts)
	if drafts != 0 {
		t.Errorf("drafts = %d, want 0 after generation failure", drafts)
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0 after generation failure", notifier.count())
	}

	// The ledger row still blocks reprocessing on the next pass.
	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	if gen.replyCalls != 1 {
		t.Errorf("generator calls = %d, want 1 (errored message is terminal)", gen.replyCalls)
	}
}

func TestTodoFailureDoesNotBlockDraft(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:500")},
	}}
	gen := &fakeGenerator{todosErr: errors.New("completion request failed")}
	notifier := &fakeNotifier{}
	monitor := newTestMonitor(db, mbx, gen, notifier)

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	var record models.ProcessedMessage
	if err := db.Where("provider_message_id = ?", "imap:500").First(&record).Error; err != nil {
		t.Fatalf("expected ledger record: %v", err)
	}
	if record.Status != models.MessageStatusDraftCreated {
		t.Errorf("status = %q, want %q despite todo failure", record.Status, models.MessageStatusDraftCreated)
	}

	var todos int64
	db.Model(&models.ExtractedTodo{}).Count(&todos)
	if todos != 0 {
		t.Errorf("todos = %d, want 0", todos)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1 (draft only)", notifier.count())
	}
}

func TestTodosSavedAndNotified(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	due := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:600")},
	}}
	gen := &fakeGenerator{todos: []ai.TodoItem{
		{Task: "Send final logo files", DueDate: &due, Confidence: 0.9},
		{Task: "Schedule review call", Confidence: 0.6},
	}}
	notifier := &fakeNotifier{}
	monitor := newTestMonitor(db, mbx, gen, notifier)

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	var todos []models.ExtractedTodo
	if err := db.Where("user_id = ?", user.ID).Find(&todos).Error; err != nil {
		t.Fatalf("failed to load todos: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("todos = %d, want 2", len(todos))
	}
	if notifier.count() != 2 {
		t.Errorf("notifications = %d, want 2 (draft + todos)", notifier.count())
	}
}

func TestIntervalGateSkipsRecentlyCheckedAccounts(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	checked := base.Add(-2 * time.Minute)
	if err := db.Model(account).Update("last_checked_at", checked).Error; err != nil {
		t.Fatalf("failed to set last_checked_at: %v", err)
	}

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:700")},
	}}
	monitor := newTestMonitor(db, mbx, &fakeGenerator{}, &fakeNotifier{})
	monitor.Clock = func() time.Time { return base }

	// Two minutes since the last check against a five-minute interval:
	// the account must be skipped entirely.
	monitor.CheckAllAccounts(context.Background())
	if mbx.calls != 0 {
		t.Errorf("list calls = %d, want 0 inside the interval", mbx.calls)
	}

	// Advance past the interval and check again.
	monitor.Clock = func() time.Time { return base.Add(4 * time.Minute) }
	monitor.CheckAllAccounts(context.Background())
	if mbx.calls != 1 {
		t.Errorf("list calls = %d, want 1 after the interval elapsed", mbx.calls)
	}

	// The manual path bypasses the gate.
	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}
	if mbx.calls != 2 {
		t.Errorf("list calls = %d, want 2 (manual check bypasses the gate)", mbx.calls)
	}
}

func TestAccountFailureDoesNotBlockOthers(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	broken := seedAccount(t, db, user.ID)
	healthy := &models.EmailAccount{
		UserID:              user.ID,
		Provider:            models.ProviderIMAP,
		Address:             "studio@studionorth.com",
		IsActive:            true,
		PollIntervalMinutes: 5,
	}
	if err := db.Create(healthy).Error; err != nil {
		t.Fatalf("failed to seed second account: %v", err)
	}
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	mbx := &fakeMailbox{
		messages: map[uint][]mailbox.Message{
			healthy.ID: {clientMessage("imap:800")},
		},
		errFor: map[uint]error{
			broken.ID: errors.New("dial tcp: connection refused"),
		},
	}
	monitor := newTestMonitor(db, mbx, &fakeGenerator{}, &fakeNotifier{})

	monitor.CheckAllAccounts(context.Background())

	// The healthy account's message still got processed.
	var count int64
	db.Model(&models.ProcessedMessage{}).Where("account_id = ?", healthy.ID).Count(&count)
	if count != 1 {
		t.Errorf("processed messages for healthy account = %d, want 1", count)
	}

	// The broken account recorded its error and kept last_checked_at
	// unset so the next tick retries.
	var reloaded models.EmailAccount
	if err := db.First(&reloaded, broken.ID).Error; err != nil {
		t.Fatalf("failed to reload broken account: %v", err)
	}
	if reloaded.LastError == nil {
		t.Error("LastError not recorded for failing account")
	}
	if reloaded.LastCheckedAt != nil {
		t.Error("LastCheckedAt advanced despite list failure")
	}
}

func TestInactiveAccountSkipped(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	if err := db.Model(account).Update("is_active", false).Error; err != nil {
		t.Fatalf("failed to deactivate account: %v", err)
	}

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:900")},
	}}
	monitor := newTestMonitor(db, mbx, &fakeGenerator{}, &fakeNotifier{})

	monitor.CheckAllAccounts(context.Background())
	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}
	if mbx.calls != 0 {
		t.Errorf("list calls = %d, want 0 for inactive account", mbx.calls)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	db := newTestDB(t)
	monitor := newTestMonitor(db, &fakeMailbox{}, &fakeGenerator{}, &fakeNotifier{})

	if monitor.Running() {
		t.Error("monitor reports running before Start")
	}
	monitor.Start()
	monitor.Start()
	if !monitor.Running() {
		t.Error("monitor not running after Start")
	}
	monitor.Stop()
	monitor.Stop()
	if monitor.Running() {
		t.Error("monitor still running after Stop")
	}
}

func TestRecentMessagesIncludesDraft(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db)
	account := seedAccount(t, db, user.ID)
	seedClient(t, db, user.ID, "alice@acme.com", "Alice")

	mbx := &fakeMailbox{messages: map[uint][]mailbox.Message{
		account.ID: {clientMessage("imap:1000")},
	}}
	monitor := newTestMonitor(db, mbx, &fakeGenerator{}, &fakeNotifier{})

	if err := monitor.CheckUserNow(context.Background(), user.ID); err != nil {
		t.Fatalf("CheckUserNow returned error: %v", err)
	}

	messages, err := monitor.RecentMessages(user.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages returned error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if messages[0].Draft == nil {
		t.Error("Draft relation not preloaded")
	}
}
