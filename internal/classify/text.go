package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const emojiClass = `\x{1F300}-\x{1F9FF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}`

var (
	emojiPattern         = regexp.MustCompile(`[` + emojiClass + `]`)
	emojiReactionPattern = regexp.MustCompile(`^[\s` + emojiClass + `!.?]+$`)

	casualPatterns = []struct {
		re     *regexp.Regexp
		reason string
	}{
		{regexp.MustCompile(`(?i)^(hi|hey|hello|thanks|thank you|thx|ty|ok|okay|sure|sounds good|perfect|great|awesome|nice|cool|lol|haha|yes|no|yep|nope|👍|👌)[\s!.]*$`), "casual_greeting"},
		{regexp.MustCompile(`(?i)^(good morning|good afternoon|good evening|gm|gn)[\s!.]*$`), "greeting"},
		{regexp.MustCompile(`(?i)^(congrats|congratulations|well done|good job)[\s!.]*$`), "acknowledgment"},
	}

	emailPattern = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	urlPattern   = regexp.MustCompile(`(?i)https?://\S+`)

	trailingPunct = regexp.MustCompile(`(&gt;|[>)\],.])+$`)
)

// ShouldSkip reports whether text is casual chatter not worth a model call,
// and why
func ShouldSkip(text string) (bool, string) {
	if text == "" {
		return false, ""
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if utf8.RuneCountInString(normalized) < 10 {
		return true, "message_too_short"
	}

	withoutEmoji := strings.TrimSpace(emojiPattern.ReplaceAllString(text, ""))
	if utf8.RuneCountInString(withoutEmoji) < 5 {
		return true, "emoji_only"
	}

	for _, p := range casualPatterns {
		if p.re.MatchString(normalized) {
			return true, p.reason
		}
	}

	if emojiReactionPattern.MatchString(text) {
		return true, "emoji_reaction"
	}
	return false, ""
}

// RedactPII masks email addresses and phone numbers
func RedactPII(text string) string {
	text = emailPattern.ReplaceAllString(text, "[REDACTED_EMAIL]")
	return phonePattern.ReplaceAllString(text, "[REDACTED_PHONE]")
}

// ExtractLinks returns the URLs in text, unwrapping Slack's <url|label> form
func ExtractLinks(text string) []string {
	raw := urlPattern.FindAllString(text, -1)
	links := make([]string, 0, len(raw))
	for _, u := range raw {
		u = trailingPunct.ReplaceAllString(u, "")
		u = strings.TrimPrefix(u, "&lt;")
		u = strings.TrimPrefix(u, "<")
		if i := strings.IndexByte(u, '|'); i >= 0 {
			u = u[:i]
		}
		if u != "" {
			links = append(links, u)
		}
	}
	return links
}
