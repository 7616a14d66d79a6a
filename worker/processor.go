package worker

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"inboxpilot/ai"
	"inboxpilot/mailbox"
	"inboxpilot/models"
	"inboxpilot/utils"
)

// processMessage runs one classified message through the state machine:
// pending → ai_processing → draft_created, or → error on a generation or
// persistence failure. Errors are terminal for the message; it stays in
// the ledger and is never retried automatically.
func (m *Monitor) processMessage(ctx context.Context, account *models.EmailAccount, user *models.User, msg mailbox.Message, match clientMatch) {
	// Ledger check: "unread" listings return the same message until the
	// external approval flow marks it read, so most cycles see mostly
	// already-processed ids.
	var existing int64
	err := m.db.Model(&models.ProcessedMessage{}).
		Where("user_id = ? AND provider_message_id = ?", account.UserID, msg.ProviderID).
		Count(&existing).Error
	if err != nil {
		utils.LogError("ledger_lookup", err, map[string]interface{}{
			"user_id":             account.UserID,
			"provider_message_id": msg.ProviderID,
		})
		return
	}
	if existing > 0 {
		return
	}

	record := models.ProcessedMessage{
		UserID:            account.UserID,
		AccountID:         account.ID,
		ProjectID:         match.ProjectID,
		ProviderMessageID: msg.ProviderID,
		Sender:            msg.From,
		Subject:           msg.Subject,
		Body:              msg.Body,
		ReceivedAt:        msg.Date,
		Status:            models.MessageStatusPending,
	}
	if err := m.db.Create(&record).Error; err != nil {
		if isDuplicateKey(err) {
			// A concurrent check claimed this message first; the unique
			// index on (user_id, provider_message_id) makes that a skip.
			return
		}
		utils.LogError("ledger_create", err, map[string]interface{}{
			"user_id":             account.UserID,
			"provider_message_id": msg.ProviderID,
		})
		return
	}

	if err := m.db.Model(&record).Update("status", models.MessageStatusAIProcessing).Error; err != nil {
		m.failMessage(&record, err)
		return
	}

	reply, err := m.generator.GenerateReply(ctx, msg.Body, ai.ReplyContext{
		ClientName: match.ClientName,
		Tone:       user.Tone,
		Signature:  user.Signature,
	})
	if err != nil {
		m.failMessage(&record, err)
		return
	}

	draft := models.Draft{
		MessageID:  record.ID,
		UserID:     account.UserID,
		ProjectID:  match.ProjectID,
		Subject:    reply.Subject,
		Body:       reply.Body,
		Closing:    reply.Closing,
		Signature:  reply.Signature,
		TriggerTag: reply.TriggerTag,
		Status:     models.DraftStatusDraft,
	}
	if err := m.db.Create(&draft).Error; err != nil {
		m.failMessage(&record, err)
		return
	}

	// Todo extraction is best-effort and fully independent of the draft.
	savedTodos := m.extractTodos(ctx, &record, msg.Body)

	now := m.Clock()
	if err := m.db.Model(&record).Updates(map[string]interface{}{
		"status":       models.MessageStatusDraftCreated,
		"processed_at": now,
	}).Error; err != nil {
		utils.LogError("message_finalize", err, map[string]interface{}{"message_id": record.ID})
	}

	m.logger.Printf("Draft %d created for message %s (user %d)", draft.ID, msg.ProviderID, account.UserID)

	m.notifier.Notify(ctx, account.UserID, utils.Notification{
		Title: "New reply draft ready",
		Body:  "A draft reply to " + msg.From + " is waiting for your review.",
		Data: map[string]interface{}{
			"type":       "draft_created",
			"draft_id":   draft.ID,
			"message_id": record.ID,
		},
	})
	if savedTodos > 0 {
		m.notifier.Notify(ctx, account.UserID, utils.Notification{
			Title: "New action items",
			Body:  "Action items were found in a client email.",
			Data: map[string]interface{}{
				"type":       "todos_extracted",
				"message_id": record.ID,
				"count":      savedTodos,
			},
		})
	}
}

// extractTodos persists whatever action items the extraction call
// yields. Any failure here is soft: the draft already exists and the
// message still reaches draft_created.
func (m *Monitor) extractTodos(ctx context.Context, record *models.ProcessedMessage, body string) int {
	todos, err := m.generator.ExtractTodos(ctx, body)
	if err != nil {
		utils.LogError("todo_extraction", err, map[string]interface{}{"message_id": record.ID})
		return 0
	}

	saved := 0
	for _, t := range todos {
		todo := models.ExtractedTodo{
			UserID:     record.UserID,
			ProjectID:  record.ProjectID,
			MessageID:  record.ID,
			Task:       t.Task,
			DueDate:    t.DueDate,
			Confidence: t.Confidence,
		}
		if err := m.db.Create(&todo).Error; err != nil {
			utils.LogError("todo_create", err, map[string]interface{}{"message_id": record.ID})
			continue
		}
		saved++
	}
	return saved
}

func (m *Monitor) failMessage(record *models.ProcessedMessage, cause error) {
	now := m.Clock()
	detail := cause.Error()
	if err := m.db.Model(record).Updates(map[string]interface{}{
		"status":       models.MessageStatusError,
		"error_detail": detail,
		"processed_at": now,
	}).Error; err != nil {
		utils.LogError("message_fail_update", err, map[string]interface{}{"message_id": record.ID})
		return
	}
	utils.LogError("message_processing", cause, map[string]interface{}{
		"message_id": record.ID,
		"user_id":    record.UserID,
	})
}

// isDuplicateKey spots unique-constraint violations across the dialects
// we run against (Postgres in production, sqlite in tests).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
