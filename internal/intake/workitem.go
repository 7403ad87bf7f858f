package intake

import (
	"strings"
	"time"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/debounce"
)

// Queue entry types
const (
	// EntryClassified carries a WorkItem ready for ingestion
	EntryClassified = "classified"
	// EntryBatch carries a debounce.Batch whose classification failed
	EntryBatch = "batch"
)

// WorkSchema tags classified payloads
const WorkSchema = "classification_v1"

// Source describes the messages a classification was made from
type Source struct {
	ConversationKey string   `json:"conversation_key"`
	SenderKey       string   `json:"sender_key"`
	TS              string   `json:"ts"`
	Text            string   `json:"text"`
	Links           []string `json:"links,omitempty"`
}

// WorkItem is a classified batch waiting for domain ingestion
type WorkItem struct {
	Schema         string      `json:"schema"`
	BatchID        int64       `json:"batch_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	Source         Source      `json:"source"`
	Classification classify.V1 `json:"payload"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IdempotencyKey identifies a batch by conversation and first message
func IdempotencyKey(b debounce.Batch) string {
	if len(b.Events) == 0 {
		return b.ConversationKey
	}
	first := b.Events[0]
	if b.ConversationKey == "" {
		return first.ID
	}
	return b.ConversationKey + ":" + first.MessageTS
}

// classifierInput converts a batch into the classifier's input
func classifierInput(b debounce.Batch) classify.Input {
	in := classify.Input{ConversationKey: b.ConversationKey}
	for _, ev := range b.Events {
		in.Messages = append(in.Messages, classify.Message{
			SenderKey: ev.SenderKey,
			TS:        ev.MessageTS,
			Time:      ev.Timestamp,
			Text:      ev.Text,
			Links:     classify.ExtractLinks(ev.Text),
		})
	}
	return in
}

func newWorkItem(b debounce.Batch, r classify.Result, now time.Time) WorkItem {
	src := Source{ConversationKey: b.ConversationKey}
	texts := make([]string, 0, len(b.Events))
	for i, ev := range b.Events {
		if i == 0 {
			src.SenderKey = ev.SenderKey
			src.TS = ev.MessageTS
		}
		texts = append(texts, ev.Text)
		src.Links = append(src.Links, classify.ExtractLinks(ev.Text)...)
	}
	src.Text = strings.Join(texts, "\n")

	return WorkItem{
		Schema:         WorkSchema,
		BatchID:        b.ID,
		IdempotencyKey: IdempotencyKey(b),
		Source:         src,
		Classification: classify.Encode(r),
		CreatedAt:      now.UTC(),
	}
}
