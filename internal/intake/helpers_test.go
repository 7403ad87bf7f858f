package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/signature"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	inputs []classify.Input
	result classify.Result
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, in classify.Input) (classify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func messageBody(t *testing.T, eventID, channel, user, ts, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"type":       "event_callback",
		"team_id":    "T1",
		"event_id":   eventID,
		"event_time": 1730550000,
		"event": map[string]interface{}{
			"type":         "message",
			"channel_type": "channel",
			"channel":      channel,
			"user":         user,
			"text":         text,
			"ts":           ts,
			"event_ts":     ts,
		},
	})
	require.NoError(t, err)
	return body
}

func signedHeader(body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(signature.HeaderTimestamp, ts)
	h.Set(signature.HeaderSignature, signature.Sign(testSecret, ts, body))
	return h
}

func strayResult() classify.Stray {
	return classify.Stray{
		TaskKey:    classify.TaskOpsMisc,
		Title:      "Order lockbox for 12 Oak St",
		Listing:    classify.Listing{Address: "12 Oak St"},
		Confidence: 0.9,
	}
}
