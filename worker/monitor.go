package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"inboxpilot/ai"
	"inboxpilot/mailbox"
	"inboxpilot/models"
	"inboxpilot/utils"
)

// ReplyGenerator is the AI surface the monitor depends on. The two calls
// are independent: a todo-extraction failure never affects the draft.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, messageBody string, rc ai.ReplyContext) (*ai.Reply, error)
	ExtractTodos(ctx context.Context, messageBody string) ([]ai.TodoItem, error)
}

// Notifier fires best-effort signals to a user's devices. Implementations
// must never let a delivery failure reach the caller.
type Notifier interface {
	Notify(ctx context.Context, userID uint, n utils.Notification)
}

// Monitor drives periodic mailbox polling for every active account and
// runs matching messages through the draft pipeline. One Monitor is
// constructed at startup and shared by the worker loop and the manual
// check endpoint.
type Monitor struct {
	db        *gorm.DB
	clients   mailbox.Registry
	generator ReplyGenerator
	notifier  Notifier
	logger    *log.Logger
	tick      time.Duration

	// Clock is swappable for tests.
	Clock func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc

	inflightMu sync.Mutex
	inflight   map[uint]bool
}

func NewMonitor(db *gorm.DB, clients mailbox.Registry, generator ReplyGenerator, notifier Notifier, logger *log.Logger, tick time.Duration) *Monitor {
	return &Monitor{
		db:        db,
		clients:   clients,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
		tick:      tick,
		Clock:     time.Now,
		inflight:  make(map[uint]bool),
	}
}

// Start begins the recurring check cycle. Calling it while already
// running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	m.logger.Println("Monitoring started")
}

// Stop cancels the recurring cycle. In-flight account checks are allowed
// to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	m.logger.Println("Monitoring stopped")
}

// Running reports whether the recurring cycle is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckAllAccounts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAllAccounts performs one tick: every active account whose poll
// interval has elapsed gets checked. A failure on one account is logged
// and must not prevent the remaining accounts from being checked.
func (m *Monitor) CheckAllAccounts(ctx context.Context) {
	var accounts []models.EmailAccount
	if err := m.db.Where("is_active = ?", true).Find(&accounts).Error; err != nil {
		utils.LogError("monitor_account_load", err, nil)
		return
	}

	now := m.Clock()
	for i := range accounts {
		account := &accounts[i]
		if !account.Due(now) {
			continue
		}
		if err := m.checkAccount(ctx, account); err != nil {
			utils.LogError("monitor_account_check", err, map[string]interface{}{
				"account_id": account.ID,
				"user_id":    account.UserID,
				"provider":   account.Provider,
			})
			continue
		}
	}
}

// CheckUserNow performs a synchronous out-of-band pass over one user's
// active accounts, bypassing the interval gate. It returns an error only
// when the account lookup itself fails; per-account failures follow the
// same isolate-and-continue rule as the scheduled path.
func (m *Monitor) CheckUserNow(ctx context.Context, userID uint) error {
	var accounts []models.EmailAccount
	if err := m.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&accounts).Error; err != nil {
		return err
	}

	for i := range accounts {
		account := &accounts[i]
		if err := m.checkAccount(ctx, account); err != nil {
			utils.LogError("manual_account_check", err, map[string]interface{}{
				"account_id": account.ID,
				"user_id":    account.UserID,
			})
			continue
		}
	}
	return nil
}

// checkAccount fetches one account's candidate messages and feeds the
// matching ones through the pipeline. The per-account in-flight guard
// keeps a manual check from overlapping a scheduled check of the same
// account; the interval gate alone cannot prevent that.
func (m *Monitor) checkAccount(ctx context.Context, account *models.EmailAccount) error {
	if !m.acquire(account.ID) {
		m.logger.Printf("Check already in flight for account %d, skipping", account.ID)
		return nil
	}
	defer m.release(account.ID)

	client, err := m.clients.ForProvider(account.Provider)
	if err != nil {
		m.recordAccountError(account, err)
		return err
	}

	messages, err := client.ListUnread(ctx, account)
	if err != nil {
		// Transient provider failure: leave LastCheckedAt untouched so
		// the next tick retries once the interval elapses.
		m.recordAccountError(account, err)
		return err
	}

	var user models.User
	if err := m.db.First(&user, account.UserID).Error; err != nil {
		m.recordAccountError(account, err)
		return err
	}

	clients, err := loadClientMap(m.db, account.UserID)
	if err != nil {
		m.recordAccountError(account, err)
		return err
	}

	for _, msg := range messages {
		addr := extractAddress(msg.From)
		match, ok := clients[addr]
		if !ok {
			// Not a monitored client; not recorded, not ledgered.
			continue
		}
		m.processMessage(ctx, account, &user, msg, match)
	}

	now := m.Clock()
	return m.db.Model(account).Updates(map[string]interface{}{
		"last_checked_at": now,
		"last_error":      nil,
	}).Error
}

// RecentMessages returns the user's most recent processed-message
// records for UI status polling.
func (m *Monitor) RecentMessages(userID uint, limit int) ([]models.ProcessedMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var messages []models.ProcessedMessage
	err := m.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Preload("Draft").
		Find(&messages).Error
	return messages, err
}

func (m *Monitor) recordAccountError(account *models.EmailAccount, err error) {
	detail := err.Error()
	if updateErr := m.db.Model(account).Update("last_error", detail).Error; updateErr != nil {
		m.logger.Printf("Failed to record error for account %d: %v", account.ID, updateErr)
	}
}

func (m *Monitor) acquire(accountID uint) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if m.inflight[accountID] {
		return false
	}
	m.inflight[accountID] = true
	return true
}

func (m *Monitor) release(accountID uint) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	delete(m.inflight, accountID)
}
