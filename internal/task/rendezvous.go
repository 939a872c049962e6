package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnebula/converter-api/internal/events"
	"github.com/fsnebula/converter-api/internal/metrics"
)

// ErrRendezvousTimeout is returned when no human answered a captcha
// challenge within the allotted window.
var ErrRendezvousTimeout = errors.New("task: captcha rendezvous timed out")

// Rendezvous blocks a running task on human input. The mutex serializes
// challenges per task: a second Ask waits until the first resolves, so
// concurrent prompts can never interleave their responses.
type Rendezvous struct {
	mu     sync.Mutex
	ticket int64
	bus    *events.Bus
	inputs *events.InputListener
}

func NewRendezvous(ticket int64, bus *events.Bus, inputs *events.InputListener) *Rendezvous {
	return &Rendezvous{ticket: ticket, bus: bus, inputs: inputs}
}

// Ask publishes a captcha challenge and blocks until a response
// arrives, the timeout passes or ctx is cancelled. Only the first
// response is consumed; duplicates are dropped by the single-shot
// listener.
func (r *Rendezvous) Ask(ctx context.Context, imageURL string, timeout time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	got := make(chan string, 1)

	// The listener must be live before the challenge is visible,
	// otherwise an immediate response could slip past it.
	id := r.inputs.Once(events.NameCaptchaResponse, func(args []json.RawMessage) {
		if len(args) == 0 {
			return
		}
		var code string
		if err := json.Unmarshal(args[0], &code); err != nil {
			return
		}
		select {
		case got <- code:
		default:
		}
	})

	if err := r.bus.Emit(ctx, r.ticket, events.Captcha{ImageURL: imageURL}); err != nil {
		r.inputs.Off(events.NameCaptchaResponse, id)
		return "", fmt.Errorf("failed to publish captcha challenge: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case code := <-got:
		metrics.CaptchaRendezvousTotal.WithLabelValues("answered").Inc()
		return code, nil
	case <-timer.C:
		r.inputs.Off(events.NameCaptchaResponse, id)
		metrics.CaptchaRendezvousTotal.WithLabelValues("timeout").Inc()
		return "", ErrRendezvousTimeout
	case <-ctx.Done():
		r.inputs.Off(events.NameCaptchaResponse, id)
		metrics.CaptchaRendezvousTotal.WithLabelValues("cancelled").Inc()
		return "", ctx.Err()
	}
}
