package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"inboxpilot/models"
)

// Notification is one best-effort signal to a user's registered devices.
type Notification struct {
	Title  string                 `json:"title"`
	Body   string                 `json:"body"`
	Data   map[string]interface{} `json:"data"`
	Silent bool                   `json:"-"`
}

// PushSender delivers notifications to every registered device token for
// a user through an Expo-compatible push gateway. Delivery is always a
// side effect: failures are logged and swallowed, never returned to the
// pipeline that triggered them.
type PushSender struct {
	db         *gorm.DB
	endpoint   string
	httpClient *http.Client
	logger     *log.Logger
}

func NewPushSender(db *gorm.DB, endpoint string, logger *log.Logger) *PushSender {
	return &PushSender{
		db:       db,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

type pushMessage struct {
	To       string                 `json:"to"`
	Title    string                 `json:"title,omitempty"`
	Body     string                 `json:"body,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Sound    string                 `json:"sound,omitempty"`
	Priority string                 `json:"priority,omitempty"`
}

type pushResponse struct {
	Data []struct {
		Status  string `json:"status"` // ok, error
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"` // e.g. DeviceNotRegistered
		} `json:"details"`
	} `json:"data"`
}

// Notify sends one notification to all of the user's active device
// tokens. Tokens the gateway reports as permanently invalid are removed
// from the registry.
func (p *PushSender) Notify(ctx context.Context, userID uint, n Notification) {
	var tokens []models.DeviceToken
	if err := p.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&tokens).Error; err != nil {
		LogError("push_token_lookup", err, map[string]interface{}{"user_id": userID})
		return
	}
	if len(tokens) == 0 {
		return
	}

	messages := make([]pushMessage, 0, len(tokens))
	for _, t := range tokens {
		msg := pushMessage{
			To:       t.Token,
			Data:     n.Data,
			Priority: "high",
		}
		if !n.Silent {
			msg.Title = n.Title
			msg.Body = n.Body
			msg.Sound = "default"
		}
		messages = append(messages, msg)
	}

	resp, err := p.send(ctx, messages)
	if err != nil {
		LogError("push_delivery", err, map[string]interface{}{
			"user_id": userID,
			"tokens":  len(tokens),
		})
		return
	}

	// Per-token results arrive in request order. A single bad token must
	// not block the others, so rejections are handled individually.
	for i, receipt := range resp.Data {
		if i >= len(tokens) {
			break
		}
		if receipt.Status != "error" {
			continue
		}
		if receipt.Details.Error == "DeviceNotRegistered" {
			if err := p.db.Unscoped().Delete(&tokens[i]).Error; err != nil {
				p.logger.Printf("Failed to prune dead device token %d: %v", tokens[i].ID, err)
				continue
			}
			p.logger.Printf("Pruned unregistered device token for user %d", userID)
			continue
		}
		p.logger.Printf("Push rejected for user %d: %s", userID, receipt.Message)
	}
}

func (p *PushSender) send(ctx context.Context, messages []pushMessage) (*pushResponse, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(body))
	}

	var out pushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	return &out, nil
}
