package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names as they appear on the wire.
const (
	NameProgress        = "progress"
	NameLogMessage      = "log_message"
	NameCaptcha         = "captcha"
	NameDone            = "done"
	NameKeepAlive       = "keep_alive"
	NameCaptchaResponse = "captcha_response"
)

// ErrUnknownEvent is returned by Decode for a frame whose event name is
// not part of the closed union.
var ErrUnknownEvent = errors.New("events: unknown event name")

// ErrMalformedFrame is returned by Decode for data that is not a JSON
// array with a leading event-name string.
var ErrMalformedFrame = errors.New("events: malformed frame")

// Event is the closed union of everything published on a ticket's
// channels. Frames are JSON arrays of the form [name, ...args].
//
// Only LogMessage and Done are persisted to the replay backlog; Progress
// and Captcha are high-frequency or moment-bound and stay on the live
// path.
type Event interface {
	EventName() string
	isEvent()
}

// Progress reports conversion progress. Transient.
type Progress struct {
	Percent float64
	Text    string
}

// LogMessage carries one formatted log record. Persisted.
type LogMessage struct {
	Text string
}

// Captcha asks observers to solve the challenge behind ImageURL. Transient.
type Captcha struct {
	ImageURL string
}

// Done signals task completion. Persisted; it is always the final event
// on a ticket's channel.
type Done struct {
	Success bool
}

// KeepAlive is a no-op frame sent by the gateway to defeat idle-timeout
// proxies. It never appears on the bus itself.
type KeepAlive struct{}

// CaptchaResponse is the one recognized input-channel event; it carries
// the solved challenge code back to a blocked task.
type CaptchaResponse struct {
	Code string
}

func (Progress) EventName() string        { return NameProgress }
func (LogMessage) EventName() string      { return NameLogMessage }
func (Captcha) EventName() string         { return NameCaptcha }
func (Done) EventName() string            { return NameDone }
func (KeepAlive) EventName() string       { return NameKeepAlive }
func (CaptchaResponse) EventName() string { return NameCaptchaResponse }

func (Progress) isEvent()        {}
func (LogMessage) isEvent()      {}
func (Captcha) isEvent()         {}
func (Done) isEvent()            {}
func (KeepAlive) isEvent()       {}
func (CaptchaResponse) isEvent() {}

// Persistent reports whether ev belongs in the replay backlog.
func Persistent(ev Event) bool {
	switch ev.(type) {
	case LogMessage, Done:
		return true
	default:
		return false
	}
}

// Encode serializes ev as a wire frame [name, ...args].
func Encode(ev Event) ([]byte, error) {
	var frame []interface{}
	switch e := ev.(type) {
	case Progress:
		frame = []interface{}{NameProgress, e.Percent, e.Text}
	case LogMessage:
		frame = []interface{}{NameLogMessage, e.Text}
	case Captcha:
		frame = []interface{}{NameCaptcha, e.ImageURL}
	case Done:
		frame = []interface{}{NameDone, e.Success}
	case KeepAlive:
		frame = []interface{}{NameKeepAlive}
	case CaptchaResponse:
		frame = []interface{}{NameCaptchaResponse, e.Code}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return json.Marshal(frame)
}

// Decode parses a wire frame back into its Event.
func Decode(data []byte) (Event, error) {
	name, args, err := SplitFrame(data)
	if err != nil {
		return nil, err
	}

	switch name {
	case NameProgress:
		var e Progress
		if err := decodeArgs(args, &e.Percent, &e.Text); err != nil {
			return nil, err
		}
		return e, nil
	case NameLogMessage:
		var e LogMessage
		if err := decodeArgs(args, &e.Text); err != nil {
			return nil, err
		}
		return e, nil
	case NameCaptcha:
		var e Captcha
		if err := decodeArgs(args, &e.ImageURL); err != nil {
			return nil, err
		}
		return e, nil
	case NameDone:
		var e Done
		if err := decodeArgs(args, &e.Success); err != nil {
			return nil, err
		}
		return e, nil
	case NameKeepAlive:
		return KeepAlive{}, nil
	case NameCaptchaResponse:
		var e CaptchaResponse
		if err := decodeArgs(args, &e.Code); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// SplitFrame validates the outer frame shape and returns the event name
// and raw argument list without interpreting the arguments.
func SplitFrame(data []byte) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: leading element is not a string", ErrMalformedFrame)
	}
	return name, parts[1:], nil
}

func decodeArgs(args []json.RawMessage, dests ...interface{}) error {
	if len(args) < len(dests) {
		return fmt.Errorf("%w: want %d args, got %d", ErrMalformedFrame, len(dests), len(args))
	}
	for i, dest := range dests {
		if err := json.Unmarshal(args[i], dest); err != nil {
			return fmt.Errorf("%w: arg %d: %v", ErrMalformedFrame, i, err)
		}
	}
	return nil
}
