package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDDerivation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "slack event id",
			body: `{"type":"event_callback","event_id":"Ev42","event":{"type":"message","ts":"1.2"}}`,
			want: "Ev42",
		},
		{
			name: "event ts",
			body: `{"type":"event_callback","event":{"type":"message","event_ts":"1730550000.000100","ts":"1.0"}}`,
			want: "slack_event_1730550000.000100",
		},
		{
			name: "message ts",
			body: `{"type":"event_callback","event":{"type":"message","ts":"1730550000.000200"}}`,
			want: "slack_event_1730550000.000200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, EventID(env, []byte(tt.body)))
		})
	}
}

func TestEventIDHashIgnoresKeyOrder(t *testing.T) {
	a := []byte(`{"type":"shortcut","callback_id":"x","user":{"id":"U1"}}`)
	b := []byte(`{"user":{"id":"U1"},"callback_id":"x","type":"shortcut"}`)

	envA, err := ParseEnvelope(a)
	require.NoError(t, err)
	envB, err := ParseEnvelope(b)
	require.NoError(t, err)

	idA := EventID(envA, a)
	assert.Len(t, idA, 40)
	assert.Equal(t, idA, EventID(envB, b))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		label  string
		convID string
	}{
		{
			name:   "channel message",
			body:   `{"type":"event_callback","event":{"type":"message","channel_type":"channel","channel":"C1","user":"U1","text":"list 12 Oak St","ts":"1730550000.000100"}}`,
			ok:     true,
			label:  "message.channels",
			convID: "C1",
		},
		{
			name:   "private group message",
			body:   `{"type":"event_callback","event":{"type":"message","channel_type":"group","channel":"G1","user":"U1","text":"list 12 Oak St","ts":"1.0"}}`,
			ok:     true,
			label:  "message.groups",
			convID: "G1",
		},
		{
			name:   "app mention",
			body:   `{"type":"event_callback","event":{"type":"app_mention","channel":"C2","user":"U1","text":"<@B1> help","ts":"1.0"}}`,
			ok:     true,
			label:  "app_mention",
			convID: "C2",
		},
		{
			name: "direct message",
			body: `{"type":"event_callback","event":{"type":"message","channel_type":"im","channel":"D1","user":"U1","text":"hi there friend","ts":"1.0"}}`,
		},
		{
			name: "bot message",
			body: `{"type":"event_callback","event":{"type":"message","channel_type":"channel","channel":"C1","bot_id":"B1","text":"deploy done","ts":"1.0"}}`,
		},
		{
			name: "edited message",
			body: `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","channel_type":"channel","channel":"C1","ts":"1.0"}}`,
		},
		{
			name: "empty text",
			body: `{"type":"event_callback","event":{"type":"message","channel_type":"channel","channel":"C1","user":"U1","text":"  ","ts":"1.0"}}`,
		},
		{
			name: "reaction",
			body: `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.body))
			require.NoError(t, err)

			ev, ok := Normalize(env, "Ev1", []byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.label, ev.Type)
				assert.Equal(t, tt.convID, ev.ConversationKey)
				assert.Equal(t, "U1", ev.SenderKey)
				assert.Equal(t, "Ev1", ev.ID)
			}
		})
	}
}

func TestNormalizeParsesTimestamp(t *testing.T) {
	body := []byte(`{"type":"event_callback","event":{"type":"message","channel_type":"channel","channel":"C1","user":"U1","text":"list 12 Oak St","ts":"1730550000.000100"}}`)
	env, err := ParseEnvelope(body)
	require.NoError(t, err)

	ev, ok := Normalize(env, "Ev1", body)
	require.True(t, ok)
	assert.Equal(t, int64(1730550000), ev.Timestamp.Unix())
	assert.Equal(t, "1730550000.000100", ev.MessageTS)
}

func TestMaskSender(t *testing.T) {
	assert.Equal(t, "U024BE7LH", maskSender("U024BE7LH"))
	masked := maskSender("U024BE7LHABCDEFG")
	assert.Equal(t, "U024...", masked[:7])
	assert.Len(t, masked, 15)
}

func TestPreviewRedactsAndTruncates(t *testing.T) {
	assert.Equal(t, "mail [REDACTED_EMAIL]", preview("mail jo@example.com", 100))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}
