package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxTextPreview = 500

// FormatNotification builds the notification text sent to the user.
func FormatNotification(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n\n", n.GroupTitle)

	b.WriteString(truncate(n.MessageText, maxTextPreview))

	if n.SenderName != "" {
		fmt.Fprintf(&b, "\n\n— %s", n.SenderName)
	}
	if n.SubscriptionQuery != "" {
		fmt.Fprintf(&b, "\n\nMatched your search: %s", n.SubscriptionQuery)
	}
	if n.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s", n.Reasoning)
	}
	if link := MessageLink(n.GroupID, n.MessageID); link != "" {
		b.WriteString("\n\n")
		b.WriteString(link)
	}
	return b.String()
}

// truncate caps text at max bytes without splitting a rune; Telegram rejects
// messages that are not valid UTF-8.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// MessageLink returns the t.me deep link to a supergroup message, or "" when
// the group id cannot be linked.
func MessageLink(groupID, messageID int64) string {
	// Supergroup chat ids are -100 followed by the internal id.
	const prefix = -1000000000000
	if groupID > prefix {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", -groupID+prefix, messageID)
}
