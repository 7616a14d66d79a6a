package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"inboxpilot/config"
	"inboxpilot/models"
)

// GmailClient lists unread messages through the Gmail API using the
// account's stored OAuth token set. Token refresh is handled by the
// oauth2 token source; a refreshed token is written back to the account
// row opportunistically so the next check starts from the fresh one.
type GmailClient struct {
	oauth config.OAuthConfig
	db    *gorm.DB
}

func NewGmailClient(oauth config.OAuthConfig, db *gorm.DB) *GmailClient {
	return &GmailClient{oauth: oauth, db: db}
}

func (gc *GmailClient) ListUnread(ctx context.Context, account *models.EmailAccount) ([]Message, error) {
	var token oauth2.Token
	if err := json.Unmarshal([]byte(account.OAuthToken), &token); err != nil {
		return nil, fmt.Errorf("failed to parse stored OAuth token: %v", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     gc.oauth.ClientID,
		ClientSecret: gc.oauth.ClientSecret,
		RedirectURL:  gc.oauth.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &token)

	srv, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail client: %v", err)
	}

	listCall := srv.Users.Messages.List("me").
		Q("is:unread in:inbox").
		MaxResults(MaxMessagesPerCheck)
	resp, err := listCall.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list messages: %v", err)
	}

	var result []Message
	for _, ref := range resp.Messages {
		msg, err := srv.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve message %s: %v", ref.Id, err)
		}
		result = append(result, normalizeGmailMessage(msg))
	}

	gc.persistRefreshedToken(account, &token, tokenSource)

	return result, nil
}

func normalizeGmailMessage(msg *gmail.Message) Message {
	normalized := Message{
		ProviderID: msg.Id,
		Date:       time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload == nil {
		return normalized
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "From":
			normalized.From = header.Value
		case "Subject":
			normalized.Subject = header.Value
		}
	}

	normalized.Body = extractPlainText(msg.Payload)
	return normalized
}

// extractPlainText walks the payload tree for the first text/plain part,
// falling back to the top-level body when no explicit plain-text part
// exists.
func extractPlainText(payload *gmail.MessagePart) string {
	if body := findPartByMime(payload, "text/plain"); body != "" {
		return body
	}
	if payload.Body != nil && payload.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(data)
		}
	}
	return findPartByMime(payload, "text/html")
}

func findPartByMime(part *gmail.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, child := range part.Parts {
		if body := findPartByMime(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func (gc *GmailClient) persistRefreshedToken(account *models.EmailAccount, stored *oauth2.Token, source oauth2.TokenSource) {
	if gc.db == nil {
		return
	}
	current, err := source.Token()
	if err != nil || current.AccessToken == stored.AccessToken {
		return
	}
	serialized, err := json.Marshal(current)
	if err != nil {
		return
	}
	// Best effort: a failed write just means the old refresh token gets
	// exercised again next check.
	gc.db.Model(&models.EmailAccount{}).
		Where("id = ?", account.ID).
		Update("oauth_token", string(serialized))
}
