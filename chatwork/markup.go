package chatwork

import (
	"fmt"
	"regexp"
	"strings"
)

// To renders a mention of accountID.
func To(accountID, name string) string {
	if name == "" {
		return fmt.Sprintf("[To:%s]", accountID)
	}
	return fmt.Sprintf("[To:%s]%sさん", accountID, name)
}

// Reply renders the reply marker that links a message to an earlier one.
func Reply(accountID, roomID, messageID string) string {
	return fmt.Sprintf("[rp aid=%s to=%s-%s]", accountID, roomID, messageID)
}

// Info wraps body in an info box with an optional title.
func Info(title, body string) string {
	if title == "" {
		return "[info]" + body + "[/info]"
	}
	return "[info][title]" + title + "[/title]" + body + "[/info]"
}

// Quote renders a quotation of a message sent by accountID at sendTime (unix seconds).
func Quote(accountID string, sendTime int64, body string) string {
	return fmt.Sprintf("[qt][qtmeta aid=%s time=%d]%s[/qt]", accountID, sendTime, body)
}

var tagRe = regexp.MustCompile(`\[(?:To:\d+|rp aid=\d+ to=\d+-\d+|pname:\d+|piconname:\d+)\](?:[^\n\[]*?さん)?`)

// StripAddressing removes leading mention and reply markers so a command
// written after "[To:1]Bot" is still recognised.
func StripAddressing(body string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(body, ""))
}
