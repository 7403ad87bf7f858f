package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	"slack-intake-go/internal/classify"
)

// maskSender shortens long sender ids to a prefix and a hash
func maskSender(id string) string {
	if len(id) <= 12 {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return id[:4] + "..." + hex.EncodeToString(sum[:])[:8]
}

// preview truncates message text for logs and redacts contact details
func preview(text string, max int) string {
	if utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max]) + "..."
	}
	return classify.RedactPII(text)
}
