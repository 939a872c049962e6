package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeProducesWireFrames(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		event Event
		want  string
	}{
		{"progress", Progress{Percent: 42.5, Text: "hashing vp archive"}, `["progress",42.5,"hashing vp archive"]`},
		{"log message", LogMessage{Text: "INFO: starting"}, `["log_message","INFO: starting"]`},
		{"captcha", Captcha{ImageURL: "https://mirror.example/c.png"}, `["captcha","https://mirror.example/c.png"]`},
		{"done", Done{Success: true}, `["done",true]`},
		{"keep alive", KeepAlive{}, `["keep_alive"]`},
		{"captcha response", CaptchaResponse{Code: "x7f2"}, `["captcha_response","x7f2"]`},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data, err := Encode(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))

			back, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.event, back)
		})
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"name":"progress"}`,
		`[]`,
		`[42,"progress"]`,
		`["progress","not-a-number","text"]`,
		`not json at all`,
		`["done"]`,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedFrame, "frame %s", raw)
	}
}

func TestDecodeRejectsUnknownEventName(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`["self_destruct",5]`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPersistencePolicy(t *testing.T) {
	t.Parallel()

	// Only log messages and the terminal done event are replayed to late
	// subscribers; progress and captcha stay transient.
	assert.True(t, Persistent(LogMessage{Text: "x"}))
	assert.True(t, Persistent(Done{Success: false}))
	assert.False(t, Persistent(Progress{Percent: 1}))
	assert.False(t, Persistent(Captcha{ImageURL: "u"}))
	assert.False(t, Persistent(KeepAlive{}))
}

func TestLogKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := LogKey(1234)
	assert.Equal(t, "task:1234:log", key)

	ticket, err := TicketFromLogKey(key)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), ticket)

	_, err = TicketFromLogKey("task:status")
	assert.Error(t, err)
	_, err = TicketFromLogKey("other:12:log")
	assert.Error(t, err)
}
