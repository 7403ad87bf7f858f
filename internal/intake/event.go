// Package intake connects the webhook, the debounce buffer, the classifier
// and the work queue.
package intake

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"slack-intake-go/internal/debounce"
)

// Envelope types sent by Slack
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
)

// Envelope is the outer JSON body of a Slack Events API request
type Envelope struct {
	Type      string      `json:"type"`
	Token     string      `json:"token,omitempty"`
	Challenge string      `json:"challenge,omitempty"`
	TeamID    string      `json:"team_id,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	EventTime int64       `json:"event_time,omitempty"`
	Event     *SlackEvent `json:"event,omitempty"`
}

// SlackEvent is the inner event of an event_callback
type SlackEvent struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	Channel     string `json:"channel,omitempty"`
	User        string `json:"user,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Text        string `json:"text,omitempty"`
	TS          string `json:"ts,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
}

// ParseEnvelope decodes a request body
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid event body: %w", err)
	}
	return &env, nil
}

// EventID derives the deduplication key for a request: Slack's event_id when
// present, then the event timestamp, then a hash of the body.
func EventID(env *Envelope, body []byte) string {
	if env.EventID != "" {
		return env.EventID
	}
	if env.Type == TypeEventCallback && env.Event != nil {
		ts := env.Event.EventTS
		if ts == "" {
			ts = env.Event.TS
		}
		if ts != "" {
			return "slack_event_" + ts
		}
	}

	// re-marshal through a map so key order does not change the hash
	canonical := body
	var generic interface{}
	if err := json.Unmarshal(body, &generic); err == nil {
		if b, err := json.Marshal(generic); err == nil {
			canonical = b
		}
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// Normalize turns a callback into a buffered event. It returns false for
// envelopes the pipeline does not act on: anything other than app mentions and
// channel or private group messages, bot messages, edits and other subtypes,
// and empty text.
func Normalize(env *Envelope, eventID string, raw []byte) (debounce.Event, bool) {
	if env.Type != TypeEventCallback || env.Event == nil {
		return debounce.Event{}, false
	}
	ev := env.Event
	if ev.BotID != "" || ev.Subtype != "" {
		return debounce.Event{}, false
	}

	var label string
	switch ev.Type {
	case "app_mention":
		label = "app_mention"
	case "message":
		switch ev.ChannelType {
		case "channel":
			label = "message.channels"
		case "group":
			label = "message.groups"
		default:
			return debounce.Event{}, false
		}
	default:
		return debounce.Event{}, false
	}

	if strings.TrimSpace(ev.Text) == "" {
		return debounce.Event{}, false
	}

	ts := ev.TS
	if ts == "" {
		ts = ev.EventTS
	}

	return debounce.Event{
		ID:              eventID,
		ConversationKey: ev.Channel,
		SenderKey:       ev.User,
		MessageTS:       ts,
		Timestamp:       parseTS(ts, env.EventTime),
		Type:            label,
		Text:            ev.Text,
		Raw:             json.RawMessage(raw),
	}, true
}

// parseTS converts a Slack "seconds.micros" timestamp
func parseTS(ts string, fallback int64) time.Time {
	if ts != "" {
		if f, err := strconv.ParseFloat(ts, 64); err == nil {
			sec := int64(f)
			usec := int64((f - float64(sec)) * 1e6)
			return time.Unix(sec, usec*int64(time.Microsecond)).UTC()
		}
	}
	if fallback > 0 {
		return time.Unix(fallback, 0).UTC()
	}
	return time.Now().UTC()
}
