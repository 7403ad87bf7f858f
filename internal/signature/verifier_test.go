package signature

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"slack-intake-go/internal/errs"
)

const secret = "8f742231b10e8888abcd99yyyzzz85a5"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"type":"event_callback","event_id":"Ev1"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	valid := Sign(secret, ts, body)

	v := NewVerifier(secret, WithClock(fixedClock(now)))

	tests := []struct {
		name      string
		body      []byte
		signature string
		timestamp string
		ok        bool
	}{
		{"valid", body, valid, ts, true},
		{"tampered body", []byte(`{"type":"event_callback","event_id":"Ev2"}`), valid, ts, false},
		{"wrong secret", body, Sign("other", ts, body), ts, false},
		{"missing signature", body, "", ts, false},
		{"missing timestamp", body, valid, "", false},
		{"non numeric timestamp", body, valid, "yesterday", false},
		{"stale timestamp", body, Sign(secret, "1699999000", body), "1699999000", false},
		{"future timestamp", body, Sign(secret, "1700000400", body), "1700000400", false},
		{"within skew", body, Sign(secret, "1699999760", body), "1699999760", true},
		{"wrong version", body, "v1=" + valid[3:], ts, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.body, tt.signature, tt.timestamp)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errs.IsAuth(err))
		})
	}
}

func TestVerifyIsPure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("payload=1")
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign(secret, ts, body)
	v := NewVerifier(secret, WithClock(fixedClock(now)))

	for i := 0; i < 3; i++ {
		assert.NoError(t, v.Verify(body, sig, ts))
	}
}

func TestVerifyBypassAndMissingSecret(t *testing.T) {
	bypassed := NewVerifier("", WithBypass(true))
	assert.True(t, bypassed.Bypassed())
	assert.NoError(t, bypassed.Verify([]byte("x"), "", ""))

	unconfigured := NewVerifier("   ")
	assert.True(t, errs.IsAuth(unconfigured.Verify([]byte("x"), "v0=00", "1")))
}

func TestWithMaxSkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("{}")
	ts := "1699999990"
	sig := Sign(secret, ts, body)

	strict := NewVerifier(secret, WithClock(fixedClock(now)), WithMaxSkew(5*time.Second))
	assert.Error(t, strict.Verify(body, sig, ts))

	lenient := NewVerifier(secret, WithClock(fixedClock(now)), WithMaxSkew(time.Minute))
	assert.NoError(t, lenient.Verify(body, sig, ts))
}

func TestSignKnownVector(t *testing.T) {
	// Slack documentation example
	body := []byte("token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&team_domain=testteamnow&channel_id=G8PSS9T3V&channel_name=foobar&user_id=U2CERLKJA&user_name=roadrunner&command=%2Fwebhook-collect&text=&response_url=https%3A%2F%2Fhooks.slack.com%2Fcommands%2FT1DC2JH3J%2F397700885554%2F96rGlfmibIGlgcZRskXaIFfN&trigger_id=398738663015.47445629121.803a0bc887a14d10d2c447fce8b6703c")
	got := Sign(secret, "1531420618", body)
	assert.Equal(t, "v0=a2114d57b48eac39b9ad189dd8316235a7b4a8d21a10bd27519666489c69b503", got)
}
