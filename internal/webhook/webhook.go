// Package webhook delivers task-completion callbacks to operator-supplied
// URLs. Deliveries are best-effort and guarded against loopback targets.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fsnebula/converter-api/internal/config"
)

// ErrLoopbackTarget is returned for URLs whose host is, or resolves to,
// a loopback address. Callback URLs come from API clients; letting them
// point the worker at its own loopback interface is an SSRF hole.
var ErrLoopbackTarget = errors.New("webhook: URL targets a loopback address")

// ErrUnsupportedScheme is returned for non-HTTP callback URLs.
var ErrUnsupportedScheme = errors.New("webhook: unsupported URL scheme")

// maxReplyBytes caps how much of a callback reply is read.
const maxReplyBytes = 64 << 10

// Notifier posts completion callbacks.
type Notifier struct {
	client        *http.Client
	resolver      *net.Resolver
	allowLoopback bool
	logger        *slog.Logger
}

func NewNotifier(cfg config.WebhookConfig, logger *slog.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{
		client:        &http.Client{Timeout: timeout},
		resolver:      net.DefaultResolver,
		allowLoopback: cfg.AllowLoopback,
		logger:        logger.With("component", "webhook"),
	}
}

// Notify POSTs ticket=<id> to rawURL and reports whether the reply asked
// for cancellation. Non-2xx replies and replies that are not the
// recognized JSON shape are ignored.
func (n *Notifier) Notify(ctx context.Context, rawURL string, ticket int64) (cancelled bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("webhook: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if !n.allowLoopback {
		loopback, lerr := n.targetsLoopback(ctx, u.Hostname())
		if lerr != nil {
			return false, fmt.Errorf("webhook: cannot resolve %s: %w", u.Hostname(), lerr)
		}
		if loopback {
			return false, fmt.Errorf("%w: %s", ErrLoopbackTarget, u.Hostname())
		}
	}

	form := url.Values{"ticket": {strconv.FormatInt(ticket, 10)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("webhook: delivery failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		n.logger.Warn("failed to read webhook reply", "url", rawURL, "error", err)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("webhook replied with an error status", "url", rawURL, "status", resp.StatusCode)
		return false, nil
	}

	var reply struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, nil
	}
	return reply.Cancelled, nil
}

// targetsLoopback reports whether host is a loopback literal, the
// localhost name, or a name resolving to any loopback address.
func (n *Notifier) targetsLoopback(ctx context.Context, host string) (bool, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback(), nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true, nil
	}

	addrs, err := n.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return false, err
	}
	for _, addr := range addrs {
		if addr.IP.IsLoopback() {
			return true, nil
		}
	}
	return false, nil
}
