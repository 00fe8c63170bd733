package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clsrelay/internal/feishu"
	"clsrelay/internal/relay"
	"clsrelay/internal/token"
	"clsrelay/pkg/logx"
)

type capturePusher struct {
	msgs []feishu.WebhookMessage
	err  error
}

func (p *capturePusher) Send(ctx context.Context, msg feishu.WebhookMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func okSummary(now time.Time) relay.Summary {
	return relay.Summary{
		StartedAt:  now,
		FinishedAt: now.Add(2 * time.Second),
		Refreshed:  true,
		Succeeded:  true,
		Chosen:     relay.KindEdgeKV,
		Results: []relay.Result{
			{Backend: relay.KindEdgeKV, Status: relay.StatusSucceeded, Attempts: 1},
			{Backend: relay.KindServerless, Status: relay.StatusSkipped},
		},
		Token: token.Record{
			Value:     "t-abc",
			IssuedAt:  now,
			ExpiresAt: now.Add(2 * time.Hour),
		},
	}
}

func newTestService(p Pusher) *Service {
	return New(Config{Enabled: true, MinInterval: time.Nanosecond}, p, nil, logx.Nop())
}

func TestReportSuccessMessage(t *testing.T) {
	t.Parallel()
	now := time.Now()
	p := &capturePusher{}
	s := newTestService(p)
	s.NoteNewItems(3)

	if err := s.Report(context.Background(), okSummary(now)); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(p.msgs))
	}

	msg := p.msgs[0]
	if msg.TotalTitles != 3 {
		t.Fatalf("TotalTitles = %d, want 3", msg.TotalTitles)
	}
	if msg.ReportType != "token_relay_status" {
		t.Fatalf("ReportType = %q", msg.ReportType)
	}
	if !strings.Contains(msg.Text, "edgekv") {
		t.Fatalf("text missing chosen backend: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "token valid for") {
		t.Fatalf("text missing remaining validity: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "new telegraph items: 3") {
		t.Fatalf("text missing item count: %q", msg.Text)
	}
}

func TestReportQuietCycleSendsNothing(t *testing.T) {
	t.Parallel()
	p := &capturePusher{}
	s := newTestService(p)

	// Successful cycle, zero new items, zero failures.
	if err := s.Report(context.Background(), okSummary(time.Now())); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(p.msgs) != 0 {
		t.Fatalf("quiet cycle sent %d messages, want 0", len(p.msgs))
	}
}

func TestReportFatalCycle(t *testing.T) {
	t.Parallel()
	p := &capturePusher{}
	s := newTestService(p)

	sum := relay.Summary{
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Fatal:      true,
		RefreshErr: "upstream down",
	}
	if err := s.Report(context.Background(), sum); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(p.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(p.msgs))
	}
	if !strings.Contains(p.msgs[0].Text, "upstream down") {
		t.Fatalf("text missing refresh error: %q", p.msgs[0].Text)
	}
}

func TestReportListsFailedBackends(t *testing.T) {
	t.Parallel()
	now := time.Now()
	p := &capturePusher{}
	s := newTestService(p)

	sum := okSummary(now)
	sum.Succeeded = false
	sum.Chosen = ""
	sum.Results = []relay.Result{
		{Backend: relay.KindEdgeKV, Status: relay.StatusFailed, Attempts: 2, ErrorDetail: "status 502"},
		{Backend: relay.KindServerless, Status: relay.StatusFailed, Attempts: 2, ErrorDetail: "timeout"},
	}

	if err := s.Report(context.Background(), sum); err != nil {
		t.Fatalf("Report: %v", err)
	}
	text := p.msgs[0].Text
	if !strings.Contains(text, "failed backends: 2") {
		t.Fatalf("text missing failure count: %q", text)
	}
	if !strings.Contains(text, "status 502") || !strings.Contains(text, "timeout") {
		t.Fatalf("text missing failure details: %q", text)
	}
}

func TestReportDeliveryFailureReturned(t *testing.T) {
	t.Parallel()
	p := &capturePusher{err: errors.New("webhook unreachable")}
	s := newTestService(p)
	s.NoteNewItems(1)

	if err := s.Report(context.Background(), okSummary(time.Now())); err == nil {
		t.Fatal("expected delivery error to propagate")
	}
}

func TestNewItemCountResetsAfterReport(t *testing.T) {
	t.Parallel()
	p := &capturePusher{}
	s := newTestService(p)
	s.NoteNewItems(2)

	s.Report(context.Background(), okSummary(time.Now()))
	s.NoteNewItems(0) // no-op

	// Second cycle has no items and is otherwise quiet.
	s.Report(context.Background(), okSummary(time.Now()))
	if len(p.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 (count must reset)", len(p.msgs))
	}
}

func TestRateLimitDropsBurst(t *testing.T) {
	t.Parallel()
	p := &capturePusher{}
	s := New(Config{Enabled: true, MinInterval: time.Hour}, p, nil, logx.Nop())

	s.NoteNewItems(1)
	s.Report(context.Background(), okSummary(time.Now()))
	s.NoteNewItems(1)
	s.Report(context.Background(), okSummary(time.Now()))

	if len(p.msgs) != 1 {
		t.Fatalf("sent %d messages, want burst collapsed to 1", len(p.msgs))
	}
}

func TestDisabledSinkIsSilent(t *testing.T) {
	t.Parallel()
	p := &capturePusher{}
	s := New(Config{Enabled: false}, p, nil, logx.Nop())
	s.NoteNewItems(5)

	if err := s.Report(context.Background(), okSummary(time.Now())); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(p.msgs) != 0 {
		t.Fatal("disabled sink must not send")
	}
}
