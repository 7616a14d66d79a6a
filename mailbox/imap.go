package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"inboxpilot/models"
	"inboxpilot/utils"
)

// IMAPClient lists unseen messages over a generic IMAP connection using
// the account's stored host/port/TLS settings and encrypted password.
type IMAPClient struct{}

func NewIMAPClient() *IMAPClient {
	return &IMAPClient{}
}

func (ic *IMAPClient) ListUnread(ctx context.Context, account *models.EmailAccount) ([]Message, error) {
	password, err := utils.Decrypt(account.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %v", err)
	}

	var imapClient *client.Client
	imapAddr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)

	switch strings.ToUpper(account.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			InsecureSkipVerify: false,
			ServerName:         account.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				InsecureSkipVerify: false,
				ServerName:         account.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(account.IMAPUsername, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailboxName := account.IMAPMailbox
	if mailboxName == "" {
		mailboxName = "INBOX"
	}

	if _, err := imapClient.Select(mailboxName, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %v", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	// Search returns oldest-first; keep only the most recent batch.
	if len(ids) > MaxMessagesPerCheck {
		ids = ids[len(ids)-MaxMessagesPerCheck:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, items, messages)
	}()

	var result []Message
	for msg := range messages {
		normalized, err := normalizeIMAPMessage(msg, section)
		if err != nil {
			// A single unreadable message must not sink the batch.
			continue
		}
		result = append(result, normalized)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %v", err)
	}

	return result, nil
}

func normalizeIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	if msg.Envelope == nil {
		return Message{}, fmt.Errorf("message %d has no envelope", msg.SeqNum)
	}

	normalized := Message{
		ProviderID: fmt.Sprintf("imap:%d", msg.Uid),
		From:       formatAddresses(msg.Envelope.From),
		Subject:    msg.Envelope.Subject,
		Date:       msg.Envelope.Date,
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return normalized, nil
	}

	bodyText, bodyHTML, err := extractBodyParts(literal)
	if err != nil {
		return Message{}, err
	}

	if bodyText != "" {
		normalized.Body = bodyText
	} else {
		normalized.Body = bodyHTML
	}
	return normalized, nil
}

// extractBodyParts walks the MIME structure and returns the plain-text
// and HTML inline parts.
func extractBodyParts(literal imap.Literal) (string, string, error) {
	mr, err := mail.CreateReader(literal)
	if err != nil {
		return "", "", fmt.Errorf("failed to create message reader: %v", err)
	}

	var bodyText, bodyHTML string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", "", fmt.Errorf("failed to read next part: %v", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return "", "", fmt.Errorf("failed to read body: %v", err)
			}

			if strings.Contains(contentType, "text/plain") && bodyText == "" {
				bodyText = string(b)
			} else if strings.Contains(contentType, "text/html") && bodyHTML == "" {
				bodyHTML = string(b)
			}
		case *mail.AttachmentHeader:
			// Attachments are not needed for drafting; skip.
			_, _ = io.Copy(io.Discard, p.Body)
		}
	}

	return bodyText, bodyHTML, nil
}

func formatAddresses(addrs []*imap.Address) string {
	var result []string
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			result = append(result, fmt.Sprintf("%s <%s>", addr.PersonalName, addr.MailboxName+"@"+addr.HostName))
		} else {
			result = append(result, fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName))
		}
	}
	return strings.Join(result, ", ")
}
