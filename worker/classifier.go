package worker

import (
	"regexp"
	"strings"

	"gorm.io/gorm"

	"inboxpilot/models"
)

// clientMatch is the classification result for a monitored address.
type clientMatch struct {
	ClientName string
	ProjectID  *uint
}

// loadClientMap loads the user's active client filters once per account
// check and builds a lowercased address lookup.
func loadClientMap(db *gorm.DB, userID uint) (map[string]clientMatch, error) {
	var filters []models.ClientFilter
	if err := db.Where("user_id = ? AND is_active = ?", userID, true).Find(&filters).Error; err != nil {
		return nil, err
	}

	clients := make(map[string]clientMatch, len(filters))
	for _, f := range filters {
		clients[strings.ToLower(f.EmailAddress)] = clientMatch{
			ClientName: f.ClientName,
			ProjectID:  f.ProjectID,
		}
	}
	return clients, nil
}

var addressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// extractAddress pulls the bare email address out of a free-text From
// header, preferring an angle-bracket-enclosed address when one is
// present ("Alice Smith <alice@acme.com>"). Returns the lowercased
// address, or "" when none is found.
func extractAddress(from string) string {
	if start := strings.LastIndex(from, "<"); start != -1 {
		if end := strings.Index(from[start:], ">"); end != -1 {
			if addr := addressPattern.FindString(from[start : start+end+1]); addr != "" {
				return strings.ToLower(addr)
			}
		}
	}
	return strings.ToLower(addressPattern.FindString(from))
}
