package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fsnebula/converter-api/internal/converter"
	"github.com/fsnebula/converter-api/internal/events"
	"github.com/fsnebula/converter-api/internal/webhook"
)

// progressInterval throttles progress events; intermediate updates
// inside the window are dropped.
const progressInterval = 300 * time.Millisecond

// ConverterArgs is the payload carried by a Converter envelope.
type ConverterArgs struct {
	Data    json.RawMessage `json:"data"`
	Webhook string          `json:"webhook,omitempty"`
	Token   string          `json:"token"`
}

// ConverterHandler runs checksum conversion jobs: it feeds the mod
// metadata through the generator, stores the outcome under the
// submission token and notifies the optional webhook.
type ConverterHandler struct {
	generator      converter.Generator
	notifier       *webhook.Notifier
	captchaTimeout time.Duration
}

func NewConverterHandler(gen converter.Generator, notifier *webhook.Notifier, captchaTimeout time.Duration) *ConverterHandler {
	if captchaTimeout <= 0 {
		captchaTimeout = 30 * time.Second
	}
	return &ConverterHandler{generator: gen, notifier: notifier, captchaTimeout: captchaTimeout}
}

func (h *ConverterHandler) Type() string { return TypeConverter }

func (h *ConverterHandler) Run(ctx context.Context, run *Run) error {
	var args ConverterArgs
	if err := json.Unmarshal(run.Args, &args); err != nil {
		return fmt.Errorf("invalid converter arguments: %w", err)
	}

	var lastProgress time.Time
	opts := converter.Options{
		Progress: func(fraction float64, text string) {
			now := time.Now()
			if fraction < 1 && now.Sub(lastProgress) < progressInterval {
				return
			}
			lastProgress = now
			run.Progress(ctx, fraction*100, text)
		},
		Challenge: func(ctx context.Context, imageURL string) (string, error) {
			return run.Captcha(ctx, imageURL, h.captchaTimeout)
		},
	}

	run.Logger.Info("conversion started")
	payload, genErr := h.generator.GenerateChecksums(ctx, args.Data, opts)
	if genErr != nil {
		run.Logger.Error("conversion failed", "error", genErr)
		payload = json.RawMessage("null")
	}

	res := Result{Payload: payload, Success: genErr == nil, Token: args.Token}
	if err := run.SaveResult(ctx, res); err != nil {
		return err
	}

	if args.Webhook != "" {
		h.notify(ctx, run, args.Webhook)
	}

	if genErr != nil {
		return genErr
	}

	run.Progress(ctx, 100, "done")
	return run.Emit(ctx, events.Done{Success: true})
}

// notify delivers the completion callback. Delivery failures are logged
// and swallowed: the webhook is best-effort and never fails the task. A
// cancellation reply drops the stored result.
func (h *ConverterHandler) notify(ctx context.Context, run *Run, url string) {
	cancelled, err := h.notifier.Notify(ctx, url, run.Ticket)
	if err != nil {
		run.Logger.Warn("webhook delivery failed", "url", url, "error", err)
		return
	}
	if cancelled {
		run.Logger.Info("webhook cancelled the request, dropping result", "url", url)
		if err := run.DeleteResult(ctx); err != nil {
			run.Logger.Error("cannot drop cancelled result", "error", err)
		}
	}
}
