// Package notify turns distribution summaries into chat status messages.
// Formatting lives here; delivery is delegated to the webhook pusher and a
// lost message never reverses a completed distribution.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clsrelay/internal/eventbus"
	"clsrelay/internal/feishu"
	"clsrelay/internal/relay"
	"clsrelay/pkg/logx"
)

// Pusher delivers one chat message. *feishu.Webhook satisfies it.
type Pusher interface {
	Send(ctx context.Context, msg feishu.WebhookMessage) error
}

// Config controls the status message sink.
type Config struct {
	Enabled bool
	// ReportType tags outgoing messages so the receiving automation can
	// route them.
	ReportType string
	// MinInterval is the floor between two sends. Bursts collapse into the
	// newest message being dropped, not queued.
	MinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReportType == "" {
		c.ReportType = "token_relay_status"
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 10 * time.Second
	}
	return c
}

// Service formats and sends per-cycle status messages. It implements the
// coordinator's Reporter contract.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	cfg    Config
	pusher Pusher
	lim    *rate.Limiter
	now    func() time.Time

	mu       sync.Mutex
	newItems int
}

func New(cfg Config, pusher Pusher, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:    log,
		bus:    bus,
		cfg:    cfg,
		pusher: pusher,
		lim:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		now:    time.Now,
	}
}

// NoteNewItems records that the feed pipeline produced n new items since the
// last report. The count is folded into the next status message and then
// reset.
func (s *Service) NoteNewItems(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.newItems += n
	s.mu.Unlock()
}

// Report formats the cycle summary and pushes it. A cycle that did no work
// (no refresh, no new items, nothing failed) sends nothing.
func (s *Service) Report(ctx context.Context, sum relay.Summary) error {
	s.mu.Lock()
	items := s.newItems
	s.newItems = 0
	s.mu.Unlock()

	if !s.cfg.Enabled || s.pusher == nil {
		return nil
	}

	if s.quietCycle(sum, items) {
		s.log.Debug("cycle produced nothing to report")
		return nil
	}

	if !s.lim.Allow() {
		s.log.Debug("status message dropped by rate limit")
		return nil
	}

	msg := feishu.WebhookMessage{
		Text:        s.format(sum, items),
		TotalTitles: items,
		Timestamp:   sum.FinishedAt.Format("2006-01-02 15:04:05"),
		ReportType:  s.cfg.ReportType,
	}

	err := s.pusher.Send(ctx, msg)
	if s.bus != nil {
		typ := eventbus.TypeNotifySent
		if err != nil {
			typ = eventbus.TypeNotifyFailed
		}
		s.bus.Publish(eventbus.Event{Type: typ})
	}
	if err != nil {
		s.log.Warn("status message delivery failed", logx.Err(err))
		return err
	}
	return nil
}

// quietCycle reports whether the summary carries nothing worth a chat
// message.
func (s *Service) quietCycle(sum relay.Summary, items int) bool {
	if items > 0 || sum.Fatal || sum.RefreshErr != "" {
		return false
	}
	if sum.FailedCount() > 0 {
		return false
	}
	// A routine successful cycle with no news is logged, not pushed.
	return true
}

// format renders the fixed-shape status text: outcome line, chosen backend,
// remaining validity, failures, and the new-item count when present.
func (s *Service) format(sum relay.Summary, items int) string {
	var b strings.Builder

	switch {
	case sum.Fatal:
		b.WriteString("❌ token refresh failed, nothing distributed")
	case sum.Succeeded:
		b.WriteString("✅ token distributed via " + string(sum.Chosen))
	default:
		b.WriteString("⚠️ all backends failed this cycle")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "cycle: %s → %s\n",
		sum.StartedAt.Format("15:04:05"), sum.FinishedAt.Format("15:04:05"))

	if sum.RefreshErr != "" && !sum.Fatal {
		b.WriteString("refresh: failed, reused last good token\n")
	}
	if sum.Token.Value != "" {
		if left := sum.Token.ExpiresAt.Sub(s.now()); left > 0 {
			fmt.Fprintf(&b, "token valid for: %s\n", left.Round(time.Second))
		}
	}
	if n := sum.FailedCount(); n > 0 {
		fmt.Fprintf(&b, "failed backends: %d\n", n)
		for _, r := range sum.Results {
			if r.Status == relay.StatusFailed {
				fmt.Fprintf(&b, "  - %s: %s\n", r.Backend, r.ErrorDetail)
			}
		}
	}
	if sum.Fatal {
		fmt.Fprintf(&b, "error: %s\n", sum.RefreshErr)
	}
	if items > 0 {
		fmt.Fprintf(&b, "new telegraph items: %d\n", items)
	}
	return strings.TrimRight(b.String(), "\n")
}
