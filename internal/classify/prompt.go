package classify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You turn real-estate operations Slack messages into a single JSON object that follows the schema and the instructions below.
Never invent fields. Content unrelated to operations is IGNORE. Operational content missing specifics is INFO_REQUEST with short explanations.
Output JSON only, no prose and no code fences.`

const instructionsTemplate = `Message types
- GROUP: the conversation declares or updates a listing container. Set group_key to one of: %s. task_key must be null.
- STRAY: one actionable task not declaring a listing. Set task_key to one of: %s. Use OPS_MISC_TASK for a clear request with no template. group_key must be null.
- INFO_REQUEST: operational content missing what is needed to act. Both keys null; say what is missing in explanations.
- IGNORE: chit-chat, reactions, unrelated content. Both keys null.

Rules
- The messages below were sent in one conversation within a short window. Classify them together as one request.
- Prefer GROUP when the messages both declare a listing and ask for tasks.
- With several task candidates pick the most specific (closing over active). If still ambiguous use INFO_REQUEST.
- listing.type is SALE or LEASE only when explicit or strongly implied (sold, firm, APS, MLS, open house for SALE; lease, tenant, landlord, OTL, rent, possession for LEASE); otherwise null.
- listing.address only when written in the text or clearly present in a link.
- assignee_hint is a named or @-mentioned person; pronouns or team names mean null.
- due_date uses yyyy-MM-dd, or yyyy-MM-ddTHH:mm when a time is stated. Never add a default time. Resolve relative dates against the reference time. Timezone: %s. Reference time: %s.
- task_title only for STRAY: 5 to 10 words, at most 80 characters, no filler such as "please" or "can you", first word capitalized.
- confidence in [0,1] reflects certainty of the type and the extracted fields.
- explanations lists short notes on assumptions or missing information, or null.`

type fewShot struct {
	input  string
	output V1
}

func strp(s string) *string { return &s }

func taskp(k TaskKey) *TaskKey { return &k }

func groupp(k GroupKey) *GroupKey { return &k }

var fewShots = []fewShot{
	{
		input: "Create a new lease listing for 22 King St W unit 1402.",
		output: V1{SchemaVersion: 1, MessageType: KindGroup, GroupKey: groupp(GroupLeaseListing),
			Listing: ListingV1{Type: strp(ListingLease), Address: strp("22 King St W unit 1402")}, Confidence: 0.94,
			Explanations: []string{"Due date not present"}},
	},
	{
		input: "For 18 Oak Ave, start closing checklist; target Oct 3 17:00.",
		output: V1{SchemaVersion: 1, MessageType: KindStray, TaskKey: taskp(TaskSaleClosing),
			Listing: ListingV1{Type: strp(ListingSale), Address: strp("18 Oak Ave")}, DueDate: strp("2025-10-03T17:00"),
			TaskTitle: strp("Start closing checklist for 18 Oak Ave"), Confidence: 0.91},
	},
	{
		input: "Please start active tasks for the new listing.",
		output: V1{SchemaVersion: 1, MessageType: KindInfoRequest, Confidence: 0.72,
			Explanations: []string{"Missing listing type (SALE/LEASE)", "Missing address"}},
	},
	{
		input:  "Great job team! 🎉",
		output: V1{SchemaVersion: 1, MessageType: KindIgnore, Confidence: 0.99, Explanations: []string{"Irrelevant to operations"}},
	},
}

func joinKeys[T ~string](keys []T) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// referenceTime is the send time of the first message, falling back to now
func referenceTime(in Input, loc *time.Location, now time.Time) time.Time {
	for _, m := range in.Messages {
		if !m.Time.IsZero() {
			return m.Time.In(loc)
		}
	}
	return now.In(loc)
}

// buildMessages renders the chat completion messages for a batch. Message
// text is redacted before it leaves the process.
func buildMessages(in Input, loc *time.Location, now time.Time) []openai.ChatCompletionMessage {
	ref := referenceTime(in, loc, now).Format("2006-01-02T15:04:05")

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(instructionsTemplate,
			joinKeys(GroupKeys), joinKeys(TaskKeys), loc.String(), ref)},
	}

	for _, shot := range fewShots {
		out, _ := json.Marshal(shot.output)
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Messages:\n1. " + shot.input},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: string(out)},
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Return ONLY JSON per the schema.\n\nContext: timezone=%s; message_timestamp_iso=%s\n\nMessages:\n", loc.String(), ref)
	var links []string
	for i, m := range in.Messages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, RedactPII(m.Text))
		links = append(links, m.Links...)
	}
	if len(links) > 0 {
		b.WriteString("\nLinks (verbatim):\n")
		b.WriteString(strings.Join(links, "\n"))
	}

	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: b.String()})
	return msgs
}
