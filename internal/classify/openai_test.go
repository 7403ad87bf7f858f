package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-intake-go/internal/errs"
)

type fakeLLM struct {
	calls   atomic.Int32
	status  int
	content string
	last    openai.ChatCompletionRequest
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}
	_ = json.NewDecoder(r.Body).Decode(&f.last)

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"rejected","type":"invalid_request_error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": f.content},
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func newTestClassifier(t *testing.T, fake *fakeLLM) *OpenAIClassifier {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewOpenAIClassifier(OpenAIConfig{
		APIKey:   "sk-test",
		BaseURL:  srv.URL,
		Model:    "gpt-4o-mini",
		Timeout:  5 * time.Second,
		Timezone: "UTC",
	})
}

func sampleInput() Input {
	return Input{
		ConversationKey: "C123",
		Messages: []Message{
			{SenderKey: "U1", TS: "1730550000.000100", Time: time.Unix(1730550000, 0), Text: "Create a new lease listing for 22 King St W unit 1402"},
			{SenderKey: "U1", TS: "1730550010.000200", Time: time.Unix(1730550010, 0), Text: "contact me at agent@example.com", Links: []string{"https://example.com/l/1"}},
		},
	}
}

func TestOpenAIClassifierDecodesReply(t *testing.T) {
	fake := &fakeLLM{content: "```json\n" + `{"schema_version":1,"message_type":"GROUP","task_key":null,"group_key":"LEASE_LISTING","listing":{"type":"LEASE","address":"22 King St W unit 1402"},"assignee_hint":null,"due_date":null,"task_title":null,"confidence":0.94,"explanations":null}` + "\n```"}
	c := newTestClassifier(t, fake)

	r, err := c.Classify(context.Background(), sampleInput())
	require.NoError(t, err)

	group, ok := r.(Group)
	require.True(t, ok)
	assert.Equal(t, GroupLeaseListing, group.GroupKey)
	assert.Equal(t, "22 King St W unit 1402", group.Listing.Address)
	assert.InDelta(t, 0.94, group.Confidence, 1e-9)

	require.NotNil(t, fake.last.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONSchema, fake.last.ResponseFormat.Type)

	final := fake.last.Messages[len(fake.last.Messages)-1].Content
	assert.Contains(t, final, "1. Create a new lease listing")
	assert.Contains(t, final, "2. contact me at [REDACTED_EMAIL]")
	assert.NotContains(t, final, "agent@example.com")
	assert.Contains(t, final, "https://example.com/l/1")
	assert.Contains(t, final, "message_timestamp_iso=2024-11-02T12:20:00")
}

func TestOpenAIClassifierRejectsInvalidReply(t *testing.T) {
	fake := &fakeLLM{content: `{"schema_version":1,"message_type":"GROUP","confidence":0.9}`}
	c := newTestClassifier(t, fake)

	_, err := c.Classify(context.Background(), sampleInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrClassification)
	assert.False(t, errs.IsPermanent(err))
}

func TestOpenAIClassifierErrorClasses(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			fake := &fakeLLM{status: tt.status}
			c := newTestClassifier(t, fake)

			_, err := c.Classify(context.Background(), sampleInput())
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrClassification)
			assert.Equal(t, tt.permanent, errs.IsPermanent(err))
		})
	}
}

func TestPrefilterSkipsChatter(t *testing.T) {
	fake := &fakeLLM{content: `{"schema_version":1,"message_type":"IGNORE","confidence":0.9}`}
	c := WithPrefilter(newTestClassifier(t, fake))

	r, err := c.Classify(context.Background(), Input{
		ConversationKey: "C1",
		Messages:        []Message{{Text: "thanks!"}, {Text: "good morning!!!"}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindIgnore, r.Kind())
	assert.Equal(t, int32(0), fake.calls.Load())

	// One substantive message sends the whole batch to the model
	_, err = c.Classify(context.Background(), Input{
		ConversationKey: "C1",
		Messages:        []Message{{Text: "thanks!"}, {Text: "Please update the brochure copy and send draft by Friday"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestDisabledClassifier(t *testing.T) {
	r, err := Disabled{}.Classify(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, KindIgnore, r.Kind())
}

func TestSchemaDescribesWireFormat(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message_type"`)
	assert.Contains(t, string(data), `"INFO_REQUEST"`)
}
