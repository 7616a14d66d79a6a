package mailbox

import (
	"encoding/base64"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractPlainText(t *testing.T) {
	tests := []struct {
		name    string
		payload *gmail.MessagePart
		want    string
	}{
		{
			name: "multipart with plain part",
			payload: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>hi</p>")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("hi")}},
				},
			},
			want: "hi",
		},
		{
			name: "nested multipart",
			payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "multipart/alternative",
						Parts: []*gmail.MessagePart{
							{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("nested body")}},
						},
					},
				},
			},
			want: "nested body",
		},
		{
			name: "top-level body fallback",
			payload: &gmail.MessagePart{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: b64("plain top-level")},
			},
			want: "plain top-level",
		},
		{
			name: "html only falls back to html",
			payload: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>only html</p>")}},
				},
			},
			want: "<p>only html</p>",
		},
		{
			name:    "empty payload",
			payload: &gmail.MessagePart{MimeType: "multipart/mixed"},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPlainText(tt.payload); got != tt.want {
				t.Errorf("extractPlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeGmailMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "18c0ffee",
		InternalDate: 1772668800000,
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice Smith <alice@acme.com>"},
				{Name: "Subject", Value: "Logo feedback"},
			},
			Body: &gmail.MessagePartBody{Data: b64("Looks great!")},
		},
	}

	normalized := normalizeGmailMessage(msg)
	if normalized.ProviderID != "18c0ffee" {
		t.Errorf("ProviderID = %q", normalized.ProviderID)
	}
	if normalized.From != "Alice Smith <alice@acme.com>" {
		t.Errorf("From = %q", normalized.From)
	}
	if normalized.Subject != "Logo feedback" {
		t.Errorf("Subject = %q", normalized.Subject)
	}
	if normalized.Body != "Looks great!" {
		t.Errorf("Body = %q", normalized.Body)
	}
	if normalized.Date.IsZero() {
		t.Error("Date not set from InternalDate")
	}
}

func TestRegistryForProvider(t *testing.T) {
	r := Registry{"imap": NewIMAPClient()}

	if _, err := r.ForProvider("imap"); err != nil {
		t.Errorf("ForProvider(imap) returned error: %v", err)
	}
	if _, err := r.ForProvider("exchange"); err == nil {
		t.Error("expected error for unregistered provider")
	}
}
